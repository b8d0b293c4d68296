package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// FileStore persists reports as a directory tree: one directory per run,
// one pretty-printed JSON file per document, nested along the slash-separated
// key. Useful for local runs and as the fallback when no database is
// configured.
type FileStore struct {
	log  log.Logger
	root string
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (creating if needed) a report tree rooted at rootPath.
func NewFileStore(rootPath string, logger log.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("invalid report store path %q: %w", rootPath, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("report store unavailable at %q: %w", abs, err)
	}
	logger.Debug("Opened file report store", "root", abs)
	return &FileStore{log: logger, root: abs}, nil
}

func (s *FileStore) Name() string {
	return "file"
}

// Root returns the absolute directory all reports live under.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) GetTestReport(runID string) TestReport {
	return &fileTestReport{store: s, runID: runID}
}

// GetAvailableReports lists the runs whose summary document has been saved,
// filtered by that summary. The summary is written last, so a run enters the
// catalog only once it is complete; directories holding partial artifacts are
// not enumerated.
func (s *FileStore) GetAvailableReports(ctx context.Context, filter DocumentFilter) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("cannot enumerate report store: %w", err)
	}
	var runs []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		summary, err := s.GetTestReport(runID).RetrieveDocument(ctx, DocumentTypeSummary, SummaryDocumentKey)
		if err != nil {
			return nil, err
		}
		if summary == nil {
			continue
		}
		if filter != nil && !filter(summary) {
			continue
		}
		runs = append(runs, runID)
	}
	sort.Strings(runs)
	return runs, nil
}

// DropDatabase removes every run directory but keeps the root in place.
func (s *FileStore) DropDatabase(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("cannot enumerate report store: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return fmt.Errorf("cannot drop report store: %w", err)
		}
	}
	return nil
}

func (s *FileStore) Close() {}

type fileTestReport struct {
	store *FileStore
	runID string
}

var _ TestReport = (*fileTestReport)(nil)

func (r *fileTestReport) Identifier() string {
	return r.runID
}

func (r *fileTestReport) runDir() string {
	return filepath.Join(r.store.root, r.runID)
}

// documentPath maps a slash-separated key onto the run directory, one JSON
// file per leaf.
func (r *fileTestReport) documentPath(key string) string {
	return filepath.Join(r.runDir(), filepath.FromSlash(key)+".json")
}

// SaveDocument writes the document as an indented JSON file, replacing any
// previous version. The resource index is implicit in the directory layout,
// so the index argument is only validated here, not stored.
func (r *fileTestReport) SaveDocument(ctx context.Context, docType string, document any, key string, index []string, isBig bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot serialize %s document %q: %w", docType, key, err)
	}
	path := r.documentPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create report directory for %q: %w", key, err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("cannot save %s document %q: %w", docType, key, err)
	}
	r.store.log.Debug("Saved report document", "run", r.runID, "type", docType, "key", key, "big", isBig, "index", strings.Join(index, ","))
	return nil
}

func (r *fileTestReport) DocumentExists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(r.documentPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// RetrieveDocument loads a document back into a generic map. A key that was
// never saved yields (nil, nil).
func (r *fileTestReport) RetrieveDocument(ctx context.Context, docType, key string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(r.documentPath(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s document %q: %w", docType, key, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("corrupt %s document %q: %w", docType, key, err)
	}
	return doc, nil
}

// StreamDocument reads the document file in fixed-size chunks so responses of
// any size can be relayed without buffering them whole.
func (r *fileTestReport) StreamDocument(ctx context.Context, docType, key string) (DocumentStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(r.documentPath(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s document %q of run %s: %w", docType, key, r.runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open %s document %q: %w", docType, key, err)
	}
	return &fileDocumentStream{f: f, buf: make([]byte, documentChunkSize)}, nil
}

// Delete removes the whole run directory. A run that never saved anything
// counts as not found.
func (r *fileTestReport) Delete(ctx context.Context, ignoreErrors bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir := r.runDir()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if ignoreErrors {
			return false, nil
		}
		return false, fmt.Errorf("test run %s: %w", r.runID, ErrNotFound)
	}
	if err := os.RemoveAll(dir); err != nil {
		if ignoreErrors {
			r.store.log.Warn("Report deletion incomplete", "run", r.runID, "err", err)
			return false, nil
		}
		return false, fmt.Errorf("cannot delete test run %s: %w", r.runID, err)
	}
	return true, nil
}

type fileDocumentStream struct {
	f   *os.File
	buf []byte
}

var _ DocumentStream = (*fileDocumentStream)(nil)

func (st *fileDocumentStream) Next() (string, error) {
	n, err := st.f.Read(st.buf)
	if n > 0 {
		return string(st.buf[:n]), nil
	}
	if err == nil {
		err = io.EOF
	}
	return "", err
}

func (st *fileDocumentStream) Close() error {
	return st.f.Close()
}
