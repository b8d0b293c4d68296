// Package report persists and retrieves the structured JSON artifacts of a
// test run under a composite resource-indexed key scheme. One capability
// interface, two interchangeable backends: a filesystem tree and a postgres
// document store. The backend is selected at startup, never branched on at
// call sites.
package report

import (
	"context"
	"errors"
	"io"
)

// SummaryDocumentKey is the run-level summary document every completed run
// publishes last. Its contents drive catalog filtering.
const SummaryDocumentKey = "test_run_summary"

// Document type labels used by the artifact writers. They categorize
// documents for logging and error reporting; the key alone locates them.
const (
	DocumentTypeSummary         = "Summary"
	DocumentTypeResourceSummary = "Resource Summary"
	DocumentTypeDetails         = "Details"
	DocumentTypeRecommendations = "Recommendations"
)

// ErrNotFound reports a requested document, run or stream that was never
// saved. It is a normal, expected outcome, not a failure.
var ErrNotFound = errors.New("document not found")

// DocumentFilter decides whether a run, represented by its summary document,
// belongs in a catalog enumeration. A nil filter matches every run.
type DocumentFilter func(summary map[string]any) bool

// Store is the report database: a durable catalog of test runs and the
// factory for their report handles. Construction fails fast when the backing
// storage is unreachable; it is never silently degraded to another backend.
type Store interface {
	// Name identifies the backend ("file" or "postgres").
	Name() string

	// GetTestReport binds a report handle to a run identifier. Idempotent:
	// repeated calls with the same identifier address the same artifacts,
	// whether or not any have been saved yet.
	GetTestReport(runID string) TestReport

	// GetAvailableReports enumerates the identifiers of every run with at
	// least one saved document whose summary satisfies the filter.
	GetAvailableReports(ctx context.Context, filter DocumentFilter) ([]string, error)

	// DropDatabase destroys all persisted reports. Test and maintenance
	// paths only.
	DropDatabase(ctx context.Context) error

	// Close releases backend resources.
	Close()
}

// TestReport scopes all document operations to one run identifier. Its
// documents outlive the worker process that produced them and persist until
// Delete.
type TestReport interface {
	// Identifier returns the run id this report is bound to.
	Identifier() string

	// SaveDocument persists a JSON document under the given key with
	// write-and-replace semantics, creating intermediate structure
	// implicitly. index lists every resource identifier a caller may later
	// filter by. isBig routes the document to streaming-capable storage on
	// backends that distinguish it.
	SaveDocument(ctx context.Context, docType string, document any, key string, index []string, isBig bool) error

	// DocumentExists reports whether a document was saved under the key.
	DocumentExists(ctx context.Context, key string) (bool, error)

	// RetrieveDocument returns the document saved under the key, or
	// (nil, nil) if it was never saved.
	RetrieveDocument(ctx context.Context, docType, key string) (map[string]any, error)

	// StreamDocument yields the document's serialized bytes as an ordered,
	// lazy sequence of text chunks, without buffering the whole document.
	// Inline documents stream too; ErrNotFound only when the key was never
	// saved.
	StreamDocument(ctx context.Context, docType, key string) (DocumentStream, error)

	// Delete removes every document of this run. With ignoreErrors, partial
	// failures are swallowed and reported as success=false instead of an
	// error; deletion must stay robust on cleanup paths.
	Delete(ctx context.Context, ignoreErrors bool) (bool, error)
}

// DocumentStream is a lazy, single-pass sequence of text chunks terminated
// by io.EOF.
type DocumentStream interface {
	Next() (string, error)
	Close() error
}

// documentChunkSize bounds how much of a streamed document is held in memory
// per chunk.
const documentChunkSize = 64 * 1024

// stringStream adapts an already-serialized inline document to the
// DocumentStream interface, chunking it so small and big documents read the
// same way.
type stringStream struct {
	rest string
}

func newStringStream(s string) *stringStream {
	return &stringStream{rest: s}
}

func (s *stringStream) Next() (string, error) {
	if len(s.rest) == 0 {
		return "", io.EOF
	}
	n := documentChunkSize
	if n > len(s.rest) {
		n = len(s.rest)
	}
	chunk := s.rest[:n]
	s.rest = s.rest[n:]
	return chunk, nil
}

func (s *stringStream) Close() error {
	s.rest = ""
	return nil
}
