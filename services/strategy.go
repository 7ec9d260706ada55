package services

import (
	"context"

	"github.com/vnkhanh/submission-ingest-backend/models"
)

// Document is the uniform input handed to every extraction strategy.
type Document struct {
	Name     string
	MimeType string
	Size     int64
	Kind     models.FileKind
	Bytes    []byte
}

// Extraction is what a strategy produced. Details are recorded on the
// processing log entry for the attempt, whether it succeeded or not.
type Extraction struct {
	Text    string
	Details map[string]any
}

// Strategy is one step of the extraction chain. A strategy that is not
// Configured is never attempted and leaves no log entry.
type Strategy interface {
	Step() string
	Applies(doc Document) bool
	Configured() bool
	Attempt(ctx context.Context, doc Document) (Extraction, error)
}

// Chain is the ordered strategy list for one file kind.
type Chain []Strategy

func (c Chain) For(doc Document) []Strategy {
	var out []Strategy
	for _, s := range c {
		if s.Applies(doc) {
			out = append(out, s)
		}
	}
	return out
}
