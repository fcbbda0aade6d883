package store

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"

	sqlite "modernc.org/sqlite"
)

// vecExtension is set when the sqlite-vec extension is linked into the cgo
// driver (build tag sqlite_vec).
var vecExtension bool

func init() {
	// vector_distance_cos(a, b) = 1 - cosine(a, b) on float32 blobs, so the
	// pure Go driver can rank vectors in SQL.
	_ = sqlite.RegisterDeterministicScalarFunction("vector_distance_cos", 2, vecDistanceCos)
}

// VectorDistanceFunc names the SQL cosine distance function available for
// driver, or "" when ranking must happen in Go.
func VectorDistanceFunc(driver string) string {
	switch driver {
	case DriverModernc, "":
		return "vector_distance_cos"
	case DriverCGO:
		if vecExtension {
			return "vec_distance_cosine"
		}
	}
	return ""
}

// EncodeVector packs v as little-endian float32, the layout sqlite-vec uses.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector reverses EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func vecDistanceCos(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vector_distance_cos expects 2 arguments")
	}
	a, err := valueToVector(args[0])
	if err != nil {
		return nil, err
	}
	b, err := valueToVector(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) == 0 || len(b) == 0 {
		return float64(1), nil
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("vector_distance_cos: dimension mismatch %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return float64(1), nil
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
}

func valueToVector(v driver.Value) ([]float32, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return DecodeVector(x)
	case string:
		return DecodeVector([]byte(x))
	default:
		return nil, fmt.Errorf("vector_distance_cos: unsupported type %T", v)
	}
}
