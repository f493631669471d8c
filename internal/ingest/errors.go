package ingest

import "fmt"

// SourceAccessError is returned when the source location itself cannot be
// listed. It is the only fatal ingestion error.
type SourceAccessError struct {
	Location string
	Err      error
}

func (e *SourceAccessError) Error() string {
	return fmt.Sprintf("listing source %s: %v", e.Location, e.Err)
}

func (e *SourceAccessError) Unwrap() error { return e.Err }

// DocumentOp is the stage at which a document failed.
type DocumentOp string

const (
	OpRead  DocumentOp = "read"
	OpParse DocumentOp = "parse"
)

// DocumentError describes one export document that contributed no trades.
type DocumentError struct {
	Document string     `json:"document"`
	Op       DocumentOp `json:"op"`
	Err      error      `json:"-"`
	Message  string     `json:"error"`
}

func newDocumentError(doc string, op DocumentOp, err error) *DocumentError {
	return &DocumentError{Document: doc, Op: op, Err: err, Message: err.Error()}
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s document %s: %v", e.Op, e.Document, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }
