package port

import "context"

// Encoder generates vector embeddings for text using one routine for every role.
type Encoder interface {
	// Encode returns one vector per input text, in input order.
	Encode(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// AsymmetricEncoder is implemented by encoders that produce embeddings
// optimized separately for documents and for queries. Implementations return
// domain.ErrAsymmetricUnsupported when the loaded model has no such routines.
type AsymmetricEncoder interface {
	Encoder

	EncodeDocuments(ctx context.Context, texts []string) ([][]float32, error)

	EncodeQueries(ctx context.Context, texts []string) ([][]float32, error)
}
