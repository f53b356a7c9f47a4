// Package vector implements the two embedding storage representations
// and the in-process similarity math used by the fallback search path.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode packs an embedding into a little-endian float32 byte buffer.
// This is the portable representation used when native vector storage
// is unavailable.
func Encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Decode unpacks a buffer produced by Encode.
func Decode(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("encoded vector length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths compare over the shorter prefix; zero vectors
// yield 0.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SimilarityFromCosineDistance converts a cosine distance in [0,2], as
// reported by the store's <=> operator, to a similarity in [0,1].
func SimilarityFromCosineDistance(distance float64) float64 {
	similarity := 1 - distance/2
	if similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}
