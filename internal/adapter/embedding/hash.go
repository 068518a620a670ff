package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"webrag/internal/port"
)

var _ port.Encoder = (*HashEncoder)(nil)

// HashEncoder is a deterministic, offline encoder based on signed feature
// hashing of lowercase word unigrams and character trigrams. Identical texts
// map to identical vectors and lexically similar texts land close together.
type HashEncoder struct {
	dimension int
}

func NewHashEncoder(dimension int) *HashEncoder {
	return &HashEncoder{dimension: dimension}
}

func (e *HashEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.encodeOne(t)
	}
	return out, nil
}

func (e *HashEncoder) encodeOne(text string) []float32 {
	v := make([]float32, e.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		e.addFeature(v, "w:"+w, 1.0)
		padded := []rune("#" + w + "#")
		for j := 0; j+3 <= len(padded); j++ {
			e.addFeature(v, "t:"+string(padded[j:j+3]), 0.5)
		}
	}
	if len(words) == 0 {
		// Blank text still gets a stable non-zero vector.
		e.addFeature(v, "empty", 1.0)
	}
	return v
}

func (e *HashEncoder) addFeature(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func (e *HashEncoder) Dimension() int {
	return e.dimension
}

func (e *HashEncoder) ModelName() string {
	return "hash"
}
