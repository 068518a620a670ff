package port

// Chunker splits raw text into overlapping, boundary-aware segments.
type Chunker interface {
	Split(text string) ([]string, error)
}
