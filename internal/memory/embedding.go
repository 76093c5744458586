package memory

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// EmbeddingKind names the encoding an embedding was stored in.
type EmbeddingKind int

const (
	EmbeddingNone EmbeddingKind = iota
	EmbeddingVector
	EmbeddingJSON
	EmbeddingDelimited
	EmbeddingBytes
)

func (k EmbeddingKind) String() string {
	switch k {
	case EmbeddingNone:
		return "absent"
	case EmbeddingVector:
		return "vector"
	case EmbeddingJSON:
		return "json"
	case EmbeddingDelimited:
		return "delimited"
	case EmbeddingBytes:
		return "bytes"
	}
	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

var (
	errEmbeddingAbsent = errors.New("no embedding")
	errEmptyVector     = errors.New("empty vector")
	errNonFinite       = errors.New("non-finite component")
)

// RawEmbedding is an embedding exactly as it came out of storage.
// Only the field matching Kind is meaningful.
type RawEmbedding struct {
	Kind   EmbeddingKind
	Vector []float64
	Text   string
	Bytes  []byte
}

// VectorEmbedding wraps an in-memory vector.
func VectorEmbedding(v []float64) RawEmbedding {
	if len(v) == 0 {
		return RawEmbedding{}
	}
	return RawEmbedding{Kind: EmbeddingVector, Vector: v}
}

// TextEmbedding classifies a stored string: a leading '[' marks JSON, anything
// else is treated as comma-delimited.
func TextEmbedding(s string) RawEmbedding {
	if strings.HasPrefix(strings.TrimSpace(s), "[") {
		return RawEmbedding{Kind: EmbeddingJSON, Text: s}
	}
	return RawEmbedding{Kind: EmbeddingDelimited, Text: s}
}

// BytesEmbedding wraps a raw buffer holding one of the text forms.
func BytesEmbedding(b []byte) RawEmbedding {
	if b == nil {
		return RawEmbedding{}
	}
	return RawEmbedding{Kind: EmbeddingBytes, Bytes: b}
}

// FromStorage maps a database/sql scanned value onto an embedding.
func FromStorage(v any) RawEmbedding {
	switch val := v.(type) {
	case nil:
		return RawEmbedding{}
	case string:
		return TextEmbedding(val)
	case []byte:
		return BytesEmbedding(val)
	case []float64:
		return VectorEmbedding(val)
	}
	return RawEmbedding{}
}

// Present reports whether an embedding was stored at all.
func (e RawEmbedding) Present() bool { return e.Kind != EmbeddingNone }

// StorageValue returns the value to hand to database/sql. Vectors are written
// as JSON text, bytes stay bytes, text forms are written unchanged.
func (e RawEmbedding) StorageValue() (any, error) {
	switch e.Kind {
	case EmbeddingNone:
		return nil, nil
	case EmbeddingVector:
		b, err := json.Marshal(e.Vector)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case EmbeddingJSON, EmbeddingDelimited:
		return e.Text, nil
	case EmbeddingBytes:
		return e.Bytes, nil
	}
	return nil, &DecodeError{Kind: e.Kind, Err: errors.New("unsupported encoding")}
}

// Decode turns the stored form into a vector. Every failure is a *DecodeError.
func (e RawEmbedding) Decode() ([]float64, error) {
	var (
		vec []float64
		err error
	)
	switch e.Kind {
	case EmbeddingNone:
		err = errEmbeddingAbsent
	case EmbeddingVector:
		vec = append([]float64(nil), e.Vector...)
	case EmbeddingJSON:
		vec, err = decodeJSON(e.Text)
	case EmbeddingDelimited:
		vec, err = decodeDelimited(e.Text)
	case EmbeddingBytes:
		s := string(e.Bytes)
		if strings.HasPrefix(strings.TrimSpace(s), "[") {
			vec, err = decodeJSON(s)
		} else {
			vec, err = decodeDelimited(s)
		}
	default:
		err = errors.New("unsupported encoding")
	}
	if err == nil {
		err = checkVector(vec)
	}
	if err != nil {
		return nil, &DecodeError{Kind: e.Kind, Err: err}
	}
	return vec, nil
}

func decodeJSON(s string) ([]float64, error) {
	var vec []float64
	if err := json.Unmarshal([]byte(s), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func decodeDelimited(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	vec := make([]float64, 0, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.New("component " + strconv.Itoa(i) + ": " + err.Error())
		}
		vec = append(vec, f)
	}
	return vec, nil
}

func checkVector(vec []float64) error {
	if len(vec) == 0 {
		return errEmptyVector
	}
	for _, f := range vec {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errNonFinite
		}
	}
	return nil
}
