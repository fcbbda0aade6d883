package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"agentjira/internal/logging"
)

// DefaultChunkSize is the target chunk length in bytes.
const DefaultChunkSize = 1500

// ingestExtensions are the file types picked up when walking directories.
var ingestExtensions = map[string]bool{
	".md": true, ".markdown": true, ".txt": true, ".rst": true, ".adoc": true,
}

// Chunk splits text on blank lines into pieces of at most size bytes.
// A single paragraph longer than size is split on line boundaries, then
// hard-cut as a last resort.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+2+len(para) > size {
			flush()
		}
		for len(para) > size {
			cut := strings.LastIndex(para[:size], "\n")
			if cut <= 0 {
				cut = size
			}
			cur.WriteString(para[:cut])
			flush()
			para = strings.TrimSpace(para[cut:])
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return chunks
}

// CollectFiles expands paths, walking directories for known text types.
func CollectFiles(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if ingestExtensions[strings.ToLower(filepath.Ext(path))] {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DocumentsFromFile chunks a file into documents with stable IDs, so
// re-ingesting the same file replaces rather than duplicates.
func DocumentsFromFile(path string, chunkSize int) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	chunks := Chunk(string(data), chunkSize)
	docs := make([]Document, len(chunks))
	for i, c := range chunks {
		docs[i] = Document{
			ID:      chunkID(path, i),
			Content: c,
			Source:  path,
			Metadata: map[string]string{
				"path":  path,
				"chunk": strconv.Itoa(i),
			},
		}
	}
	return docs, nil
}

func chunkID(path string, i int) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(path) + "#" + strconv.Itoa(i)))
	return hex.EncodeToString(sum[:8])
}

// IngestStats summarizes an ingest.
type IngestStats struct {
	Files     int
	Documents int
}

// Ingest chunks and indexes every file under paths.
func Ingest(ctx context.Context, s *VectorStore, paths []string, chunkSize int) (IngestStats, error) {
	files, err := CollectFiles(paths)
	if err != nil {
		return IngestStats{}, fmt.Errorf("retrieval: collect files: %w", err)
	}

	var stats IngestStats
	for _, f := range files {
		docs, err := DocumentsFromFile(f, chunkSize)
		if err != nil {
			return stats, fmt.Errorf("retrieval: read %s: %w", f, err)
		}
		if len(docs) == 0 {
			continue
		}
		if err := s.Add(ctx, docs); err != nil {
			return stats, err
		}
		stats.Files++
		stats.Documents += len(docs)
		logging.RetrievalDebug("Ingested %s (%d chunks)", f, len(docs))
	}
	logging.Retrieval("Ingested %d files, %d chunks", stats.Files, stats.Documents)
	return stats, nil
}
