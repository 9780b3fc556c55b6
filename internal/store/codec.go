package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Vectors are stored as little-endian float32 blobs.

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// Patch blobs are row-major: numPatches * dims float32 values.

func encodePatches(patches [][]float32) ([]byte, int, error) {
	if len(patches) == 0 {
		return []byte{}, 0, nil
	}
	dims := len(patches[0])
	buf := make([]byte, 0, 4*dims*len(patches))
	for i, p := range patches {
		if len(p) != dims {
			return nil, 0, fmt.Errorf("patch %d has %d dims, expected %d", i, len(p), dims)
		}
		buf = append(buf, encodeVector(p)...)
	}
	return buf, dims, nil
}

func decodePatches(b []byte, numPatches, dims int) ([][]float32, error) {
	if numPatches == 0 {
		return [][]float32{}, nil
	}
	if len(b) != 4*numPatches*dims {
		return nil, fmt.Errorf("patch blob length %d does not match %d x %d", len(b), numPatches, dims)
	}
	flat, err := decodeVector(b)
	if err != nil {
		return nil, err
	}
	patches := make([][]float32, numPatches)
	for i := range patches {
		patches[i] = flat[i*dims : (i+1)*dims : (i+1)*dims]
	}
	return patches, nil
}

func encodeMetadata(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string, v any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	return nil
}
