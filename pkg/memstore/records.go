package memstore

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// FileRecord is the last indexed state of one source file.
type FileRecord struct {
	Path   string
	Source string
	Hash   string
	MTime  int64 // unix milliseconds
	Size   int64
}

// ChunkRow is one stored chunk. Embedding may be empty.
type ChunkRow struct {
	ID        string
	Path      string
	Source    string
	StartLine int
	EndLine   int
	Hash      string
	Model     string
	Text      string
	Embedding []float32
}

// Hit is a raw candidate from the keyword or vector index. Raw is the native
// bm25 rank (keyword) or cosine distance (vector).
type Hit struct {
	ID        string
	Path      string
	Source    string
	StartLine int
	EndLine   int
	Text      string
	Raw       float64
}

// ChunkID derives a chunk's primary key from its content and position. The
// same inputs always give the same id.
func ChunkID(source, path string, startLine, endLine int, hash, model string) string {
	h := sha256.New()
	for _, part := range []string{source, path, strconv.Itoa(startLine), strconv.Itoa(endLine), hash, model} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func encodeVector(v []float32) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return sqlite_vec.SerializeFloat32(v)
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
