// Package pg implements the record store on PostgreSQL. Documents live in a
// single records table keyed by (collection, id) with the body held as JSONB,
// which keeps the schemaless contract of the store interface while riding on
// ordinary SQL plumbing.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"agrihub.org/internal/ids"
	"agrihub.org/internal/store"
)

// Store is a PostgreSQL-backed RecordStore.
type Store struct {
	db *sql.DB
}

var _ store.RecordStore = (*Store)(nil)

// Open connects to PostgreSQL through the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (used by tests and the migration CLI).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Insert(ctx context.Context, collection string, doc store.Doc) (string, error) {
	body := make(store.Doc, len(doc)+1)
	for k, v := range doc {
		body[k] = v
	}
	id, _ := body[store.IDField].(string)
	if id == "" {
		id = ids.New()
		body[store.IDField] = id
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into records(id, collection, body) values($1,$2,$3)`,
		id, collection, raw,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) FindOne(ctx context.Context, collection string, filter store.Filter) (store.Doc, error) {
	where, args, err := buildWhere(collection, filter)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`select body from records where `+where+` order by created_at asc limit 1`, args...)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decodeBody(raw)
}

func (s *Store) Find(ctx context.Context, collection string, filter store.Filter) ([]store.Doc, error) {
	where, args, err := buildWhere(collection, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`select body from records where `+where+` order by created_at asc`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Doc
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		doc, err := decodeBody(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, collection string, filter store.Filter, set store.Doc) (int64, error) {
	patch := make(store.Doc, len(set))
	for k, v := range set {
		if k == store.IDField {
			continue
		}
		patch[k] = v
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return 0, err
	}
	where, args, err := buildWhere(collection, filter)
	if err != nil {
		return 0, err
	}
	args = append(args, raw)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`update records set body = body || $%d::jsonb, updated_at = now() where %s`, len(args), where),
		args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Delete(ctx context.Context, collection string, filter store.Filter) (int64, error) {
	where, args, err := buildWhere(collection, filter)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `delete from records where `+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// buildWhere renders filter into a where clause. Keys are sorted so the SQL
// is deterministic. The id field hits the primary key column; everything else
// matches inside the JSONB body.
func buildWhere(collection string, filter store.Filter) (string, []any, error) {
	clauses := []string{"collection = $1"}
	args := []any{collection}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := filter[key]
		if fold, ok := val.(store.Fold); ok {
			args = append(args, string(fold))
			clauses = append(clauses, fmt.Sprintf("lower(body->>'%s') = lower($%d)", key, len(args)))
			continue
		}
		if key == store.IDField {
			args = append(args, val)
			clauses = append(clauses, fmt.Sprintf("id = $%d", len(args)))
			continue
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return "", nil, err
		}
		args = append(args, string(raw))
		clauses = append(clauses, fmt.Sprintf("body->'%s' = $%d::jsonb", key, len(args)))
	}
	return strings.Join(clauses, " and "), args, nil
}

func decodeBody(raw []byte) (store.Doc, error) {
	var doc store.Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
