package embedding

import (
	"encoding/binary"
	"math"
)

// Vector is a fixed-length embedding. Two Vectors are considered equal by
// spec.md §3 iff their serialized bytes are identical; Serialize/Deserialize
// round-trip bit-for-bit via a little-endian float32 array (no JSON,
// whose text-decimal rendering can lose precision across a round trip).
type Vector []float32

// Serialize encodes v as a little-endian float32 byte array.
func Serialize(v Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Deserialize is the inverse of Serialize. It returns an error-free empty
// Vector for a nil or empty input, and truncates any trailing bytes that do
// not make up a full float32 (callers should treat that as corrupt data, but
// this layer does not itself decide policy for it).
func Deserialize(buf []byte) Vector {
	n := len(buf) / 4
	v := make(Vector, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(buf[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v
}
