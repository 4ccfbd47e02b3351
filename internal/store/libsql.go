package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/waypoint/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/waypoint.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Instances ---

const instanceColumns = `key, workflow, place, documents, history, hash_record, pending_transition, status, last_error, created_at, updated_at`

func (s *LibSQLStore) CreateInstance(ctx context.Context, e *Entity) error {
	docs, hashes, err := marshalEntityParts(e.Documents, e.HashRecord)
	if err != nil {
		return err
	}
	e.CreatedAt = timeOrNow(e.CreatedAt)
	e.UpdatedAt = timeOrNow(e.UpdatedAt)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO instances (`+instanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Workflow, e.Place, docs, historyOrEmpty(e.History), hashes,
		nullStr(e.PendingTransition), string(e.Status), nullStr(e.LastError), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storeConflict(e.Key)
		}
		return schema.NewErrorf(schema.ErrCodeStore, "create instance %q: %v", e.Key, err).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) LoadInstance(ctx context.Context, key string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE key = ?`, key)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound(key)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load instance %q: %v", key, err).WithCause(err)
	}
	return e, nil
}

func (s *LibSQLStore) SaveExecutionState(ctx context.Context, key string, st ExecutionState) error {
	docs, hashes, err := marshalEntityParts(st.Documents, st.HashRecord)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET place = ?, documents = ?, history = ?, hash_record = ?,
		 pending_transition = ?, status = ?, last_error = ?, updated_at = ? WHERE key = ?`,
		st.Place, docs, historyOrEmpty(st.History), hashes,
		nullStr(st.PendingTransition), string(st.Status), nullStr(st.LastError), time.Now().UTC(), key,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save instance %q: %v", key, err).WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save instance %q: %v", key, err).WithCause(err)
	}
	if n == 0 {
		return storeNotFound(key)
	}
	return nil
}

func (s *LibSQLStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*Entity, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances`
	var where []string
	var args []any

	if filter.Workflow != "" {
		where = append(where, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, key"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list instances: %v", err).WithCause(err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan instance: %v", err).WithCause(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Events ---

// AppendEvent assigns the next per-instance sequence inside a write
// transaction so concurrent appends never share a number.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE instance_key = ?`, event.InstanceKey,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (instance_key, transition, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.InstanceKey, nullStr(event.Transition), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, key string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instance_key, transition, event_type, payload, timestamp, sequence
		 FROM events WHERE instance_key = ? AND sequence > ? ORDER BY sequence`, key, since)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev := &Event{}
		var transition, payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.InstanceKey, &transition, &ev.Type, &payload, &ev.Timestamp, &ev.Sequence); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Transition = transition.String
		ev.Payload = rawOrNil(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	e := &Entity{}
	var (
		docs, history, hashes string
		pending, lastError    sql.NullString
		status                string
	)
	if err := row.Scan(&e.Key, &e.Workflow, &e.Place, &docs, &history, &hashes,
		&pending, &status, &lastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(docs), &e.Documents); err != nil {
		return nil, fmt.Errorf("unmarshal documents: %w", err)
	}
	if err := json.Unmarshal([]byte(hashes), &e.HashRecord); err != nil {
		return nil, fmt.Errorf("unmarshal hash record: %w", err)
	}
	e.History = json.RawMessage(history)
	e.PendingTransition = pending.String
	e.Status = schema.InstanceStatus(status)
	e.LastError = lastError.String
	return e, nil
}

func marshalEntityParts(docs []schema.Document, hashes map[string]string) (string, string, error) {
	if docs == nil {
		docs = []schema.Document{}
	}
	if hashes == nil {
		hashes = map[string]string{}
	}
	d, err := json.Marshal(docs)
	if err != nil {
		return "", "", schema.NewErrorf(schema.ErrCodeStore, "marshal documents: %v", err).WithCause(err)
	}
	h, err := json.Marshal(hashes)
	if err != nil {
		return "", "", schema.NewErrorf(schema.ErrCodeStore, "marshal hash record: %v", err).WithCause(err)
	}
	return string(d), string(h), nil
}

func historyOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

var _ Store = (*LibSQLStore)(nil)
