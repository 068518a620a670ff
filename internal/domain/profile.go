package domain

import (
	"fmt"
	"strings"
)

// EmbeddingProfile is the closed set of supported embedding models. It is
// resolved once from configuration and never re-dispatched on strings.
type EmbeddingProfile int

const (
	ProfileGemma EmbeddingProfile = iota
	ProfileMiniLM
	ProfileBGE
)

type profileDef struct {
	key         string
	model       string
	dimension   int
	chunkSize   int
	asymmetric  bool
	description string
}

var profileDefs = [...]profileDef{
	ProfileGemma: {
		key:         "gemma",
		model:       "google/embeddinggemma-300m",
		dimension:   768,
		chunkSize:   1200,
		asymmetric:  true,
		description: "EmbeddingGemma 300M, asymmetric query/document prompts",
	},
	ProfileMiniLM: {
		key:         "minilm",
		model:       "sentence-transformers/all-MiniLM-L6-v2",
		dimension:   384,
		chunkSize:   512,
		description: "MiniLM L6 v2, fast and small",
	},
	ProfileBGE: {
		key:         "bge",
		model:       "BAAI/bge-base-en-v1.5",
		dimension:   768,
		chunkSize:   512,
		description: "BGE base English v1.5",
	},
}

// DefaultProfile is used when configuration names no profile.
const DefaultProfile = ProfileGemma

// Profiles lists every registered profile in declaration order.
func Profiles() []EmbeddingProfile {
	out := make([]EmbeddingProfile, len(profileDefs))
	for i := range profileDefs {
		out[i] = EmbeddingProfile(i)
	}
	return out
}

// ParseEmbeddingProfile resolves a configuration key. Unknown keys are a
// configuration error.
func ParseEmbeddingProfile(key string) (EmbeddingProfile, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	for i, s := range profileDefs {
		if s.key == k {
			return EmbeddingProfile(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProfile, key)
}

func (p EmbeddingProfile) def() profileDef {
	if p < 0 || int(p) >= len(profileDefs) {
		return profileDef{}
	}
	return profileDefs[p]
}

func (p EmbeddingProfile) Valid() bool {
	return p >= 0 && int(p) < len(profileDefs)
}

func (p EmbeddingProfile) Key() string             { return p.def().key }
func (p EmbeddingProfile) ModelIdentifier() string { return p.def().model }
func (p EmbeddingProfile) Dimension() int          { return p.def().dimension }
func (p EmbeddingProfile) DefaultChunkSize() int   { return p.def().chunkSize }
func (p EmbeddingProfile) Description() string     { return p.def().description }

// SupportsAsymmetricEncoding reports whether documents and queries are
// encoded by distinct routines.
func (p EmbeddingProfile) SupportsAsymmetricEncoding() bool { return p.def().asymmetric }

func (p EmbeddingProfile) String() string {
	if !p.Valid() {
		return fmt.Sprintf("EmbeddingProfile(%d)", int(p))
	}
	return p.Key()
}
