package port

// Tokenizer splits text into normalized terms for lexical scoring.
type Tokenizer interface {
	Tokenize(text string) []string
}
