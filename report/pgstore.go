package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists reports in postgres: document metadata and inline bodies
// in one table, oversized bodies chunked into a side table so they can be
// streamed back without materializing them. Each logical report database is
// its own postgres schema, so test and production catalogs can share a
// server.
type PGStore struct {
	log    log.Logger
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PGStore)(nil)

var schemaNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// NewPGStore connects to databaseURL and prepares the report schema named
// dbName. It fails fast when the server is unreachable; callers fall back to
// a file store explicitly, never implicitly.
func NewPGStore(ctx context.Context, databaseURL, dbName string, logger log.Logger) (*PGStore, error) {
	if !schemaNamePattern.MatchString(dbName) {
		return nil, fmt.Errorf("invalid report database name %q", dbName)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("report store unavailable: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("report store unavailable: %w", err)
	}
	s := &PGStore{log: logger, pool: pool, schema: dbName}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Debug("Opened postgres report store", "schema", dbName)
	return s, nil
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.test_documents (
			run_id    text NOT NULL,
			doc_key   text NOT NULL,
			doc_type  text NOT NULL,
			body      jsonb,
			index_ids text[] NOT NULL DEFAULT '{}',
			is_big    boolean NOT NULL DEFAULT false,
			saved_at  timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (run_id, doc_key)
		)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS test_documents_index_ids
			ON %s.test_documents USING gin (index_ids)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.test_document_chunks (
			run_id  text NOT NULL,
			doc_key text NOT NULL,
			seq     integer NOT NULL,
			chunk   text NOT NULL,
			PRIMARY KEY (run_id, doc_key, seq)
		)`, s.schema),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("cannot prepare report schema %s: %w", s.schema, err)
		}
	}
	return nil
}

func (s *PGStore) Name() string {
	return "postgres"
}

func (s *PGStore) GetTestReport(runID string) TestReport {
	return &pgTestReport{store: s, runID: runID}
}

// GetAvailableReports lists the runs whose summary document has been saved,
// applying the filter to that summary. The summary is written last, so a run
// enters the catalog only once it is complete; runs with partial artifacts
// are not enumerated.
func (s *PGStore) GetAvailableReports(ctx context.Context, filter DocumentFilter) ([]string, error) {
	query := fmt.Sprintf(`SELECT run_id, body::text FROM %s.test_documents
		WHERE doc_key = $1 ORDER BY run_id`, s.schema)
	rows, err := s.pool.Query(ctx, query, SummaryDocumentKey)
	if err != nil {
		return nil, fmt.Errorf("cannot enumerate report store: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var runID string
		var summaryBody *string
		if err := rows.Scan(&runID, &summaryBody); err != nil {
			return nil, err
		}
		if filter != nil {
			// A summary saved as a big document carries a NULL inline body.
			summary := map[string]any{}
			if summaryBody != nil {
				if err := json.Unmarshal([]byte(*summaryBody), &summary); err != nil {
					return nil, fmt.Errorf("corrupt summary for run %s: %w", runID, err)
				}
			}
			if !filter(summary) {
				continue
			}
		}
		runs = append(runs, runID)
	}
	return runs, rows.Err()
}

// DropDatabase truncates both report tables.
func (s *PGStore) DropDatabase(ctx context.Context) error {
	stmt := fmt.Sprintf(`TRUNCATE %s.test_documents, %s.test_document_chunks`, s.schema, s.schema)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("cannot drop report store: %w", err)
	}
	return nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

type pgTestReport struct {
	store *PGStore
	runID string
}

var _ TestReport = (*pgTestReport)(nil)

func (r *pgTestReport) Identifier() string {
	return r.runID
}

// SaveDocument upserts the document row. Big documents store a NULL body and
// their serialized form chunked in the side table; re-saving a key replaces
// both representations atomically.
func (r *pgTestReport) SaveDocument(ctx context.Context, docType string, document any, key string, index []string, isBig bool) error {
	body, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("cannot serialize %s document %q: %w", docType, key, err)
	}
	if index == nil {
		index = []string{}
	}

	tx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cannot save %s document %q: %w", docType, key, err)
	}
	defer tx.Rollback(ctx)

	var inline *string
	if !isBig {
		s := string(body)
		inline = &s
	}
	upsert := fmt.Sprintf(`INSERT INTO %s.test_documents (run_id, doc_key, doc_type, body, index_ids, is_big)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, doc_key) DO UPDATE
		SET doc_type = EXCLUDED.doc_type, body = EXCLUDED.body,
		    index_ids = EXCLUDED.index_ids, is_big = EXCLUDED.is_big, saved_at = now()`,
		r.store.schema)
	if _, err := tx.Exec(ctx, upsert, r.runID, key, docType, inline, index, isBig); err != nil {
		return fmt.Errorf("cannot save %s document %q: %w", docType, key, err)
	}

	purge := fmt.Sprintf(`DELETE FROM %s.test_document_chunks WHERE run_id = $1 AND doc_key = $2`, r.store.schema)
	if _, err := tx.Exec(ctx, purge, r.runID, key); err != nil {
		return fmt.Errorf("cannot save %s document %q: %w", docType, key, err)
	}
	if isBig {
		insert := fmt.Sprintf(`INSERT INTO %s.test_document_chunks (run_id, doc_key, seq, chunk)
			VALUES ($1, $2, $3, $4)`, r.store.schema)
		text := string(body)
		for seq := 0; len(text) > 0; seq++ {
			n := documentChunkSize
			if n > len(text) {
				n = len(text)
			}
			if _, err := tx.Exec(ctx, insert, r.runID, key, seq, text[:n]); err != nil {
				return fmt.Errorf("cannot save %s document %q: %w", docType, key, err)
			}
			text = text[n:]
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cannot save %s document %q: %w", docType, key, err)
	}
	r.store.log.Debug("Saved report document", "run", r.runID, "type", docType, "key", key, "big", isBig)
	return nil
}

func (r *pgTestReport) DocumentExists(ctx context.Context, key string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s.test_documents WHERE run_id = $1 AND doc_key = $2)`,
		r.store.schema)
	var exists bool
	if err := r.store.pool.QueryRow(ctx, query, r.runID, key).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// RetrieveDocument loads a document back into a generic map, reassembling
// chunked bodies. A key that was never saved yields (nil, nil).
func (r *pgTestReport) RetrieveDocument(ctx context.Context, docType, key string) (map[string]any, error) {
	query := fmt.Sprintf(`SELECT body::text, is_big FROM %s.test_documents WHERE run_id = $1 AND doc_key = $2`,
		r.store.schema)
	var body *string
	var isBig bool
	err := r.store.pool.QueryRow(ctx, query, r.runID, key).Scan(&body, &isBig)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s document %q: %w", docType, key, err)
	}

	var text string
	if body != nil {
		text = *body
	} else {
		text, err = r.assembleChunks(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s document %q: %w", docType, key, err)
		}
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("corrupt %s document %q: %w", docType, key, err)
	}
	return doc, nil
}

// StreamDocument yields chunk rows lazily for big documents; inline bodies
// are chunked in memory so both shapes stream identically.
func (r *pgTestReport) StreamDocument(ctx context.Context, docType, key string) (DocumentStream, error) {
	query := fmt.Sprintf(`SELECT body::text, is_big FROM %s.test_documents WHERE run_id = $1 AND doc_key = $2`,
		r.store.schema)
	var body *string
	var isBig bool
	err := r.store.pool.QueryRow(ctx, query, r.runID, key).Scan(&body, &isBig)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s document %q of run %s: %w", docType, key, r.runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open %s document %q: %w", docType, key, err)
	}

	if body != nil {
		return newStringStream(*body), nil
	}
	chunks := fmt.Sprintf(`SELECT chunk FROM %s.test_document_chunks WHERE run_id = $1 AND doc_key = $2 ORDER BY seq`,
		r.store.schema)
	rows, err := r.store.pool.Query(ctx, chunks, r.runID, key)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s document %q: %w", docType, key, err)
	}
	return &pgDocumentStream{rows: rows}, nil
}

// Delete removes all rows of the run in one transaction. A run that never
// saved anything counts as not found.
func (r *pgTestReport) Delete(ctx context.Context, ignoreErrors bool) (bool, error) {
	deleted, err := r.deleteRows(ctx)
	if err != nil {
		if ignoreErrors {
			r.store.log.Warn("Report deletion incomplete", "run", r.runID, "err", err)
			return false, nil
		}
		return false, fmt.Errorf("cannot delete test run %s: %w", r.runID, err)
	}
	if deleted == 0 {
		if ignoreErrors {
			return false, nil
		}
		return false, fmt.Errorf("test run %s: %w", r.runID, ErrNotFound)
	}
	return true, nil
}

func (r *pgTestReport) deleteRows(ctx context.Context) (int64, error) {
	tx, err := r.store.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	purgeChunks := fmt.Sprintf(`DELETE FROM %s.test_document_chunks WHERE run_id = $1`, r.store.schema)
	if _, err := tx.Exec(ctx, purgeChunks, r.runID); err != nil {
		return 0, err
	}
	purgeDocs := fmt.Sprintf(`DELETE FROM %s.test_documents WHERE run_id = $1`, r.store.schema)
	tag, err := tx.Exec(ctx, purgeDocs, r.runID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *pgTestReport) assembleChunks(ctx context.Context, key string) (string, error) {
	query := fmt.Sprintf(`SELECT chunk FROM %s.test_document_chunks WHERE run_id = $1 AND doc_key = $2 ORDER BY seq`,
		r.store.schema)
	rows, err := r.store.pool.Query(ctx, query, r.runID, key)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var sb strings.Builder
	for rows.Next() {
		var chunk string
		if err := rows.Scan(&chunk); err != nil {
			return "", err
		}
		sb.WriteString(chunk)
	}
	return sb.String(), rows.Err()
}

type pgDocumentStream struct {
	rows pgx.Rows
}

var _ DocumentStream = (*pgDocumentStream)(nil)

func (st *pgDocumentStream) Next() (string, error) {
	if st.rows.Next() {
		var chunk string
		if err := st.rows.Scan(&chunk); err != nil {
			return "", err
		}
		return chunk, nil
	}
	if err := st.rows.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (st *pgDocumentStream) Close() error {
	st.rows.Close()
	return nil
}
