package llm

import "errors"

var (
	ErrModelUnavailable  = errors.New("inference model unavailable")
	ErrStreamInterrupted = errors.New("generation stream interrupted")
)
