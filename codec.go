package ckptdb

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Codec packs and unpacks one fragment's payload: a map from embedding-table
// row id to its vector. The production codec (out of scope here, see
// SPEC_FULL.md §4.9) is expected to be a more compact, self-describing
// format; GobCodec is the deterministic, dependency-light default that lets
// the engine and its tests run standalone.
type Codec interface {
	Pack(values map[uint32][]float64) ([]byte, error)
	Unpack(data []byte) (map[uint32][]float64, error)
}

// GobCodec implements Codec with encoding/gob.
type GobCodec struct{}

func (GobCodec) Pack(values map[uint32][]float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(values); err != nil {
		return nil, fmt.Errorf("ckptdb: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (GobCodec) Unpack(data []byte) (map[uint32][]float64, error) {
	var values map[uint32][]float64
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&values); err != nil {
		return nil, fmt.Errorf("ckptdb: gob decode: %w", err)
	}
	return values, nil
}
