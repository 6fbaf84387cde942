// Package pgstore implements docstore.Store on PostgreSQL. Documents live in a
// single jsonb table keyed by (collection, id); a Commit maps to one
// transaction, set transforms take a row lock before rewriting the field, and
// subscriptions ride on LISTEN/NOTIFY.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/log/zapadapter"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"github.com/MuradAles/OrangeAI-sub003/internal/docstore"
)

const notifyChannel = "doc_events"

// Store defines fields used in db interaction processes.
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

var _ docstore.Store = (*Store)(nil)

// New sets provided zap logger via zapadapter on the pgxpool.Pool, ensures the
// documents table exists and returns a Store instance.
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	s := &Store{logger: logger, db: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring documents schema: %w", err)
	}

	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	sql := `create table if not exists documents (
				collection text not null,
				id         text not null,
				data       jsonb not null,
				version    bigint not null default 1,
				updated_at timestamptz not null default now(),
				primary key (collection, id)
			)`
	_, err := s.db.Exec(ctx, sql)
	return err
}

// Get returns a single document snapshot.
func (s *Store) Get(ctx context.Context, path docstore.Path) (docstore.Document, error) {
	var (
		data    pgtype.JSONB
		version int64
	)
	sql := "select data, version from documents where collection = $1 and id = $2"
	err := s.db.QueryRow(ctx, sql, path.Collection, path.ID).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return docstore.Document{}, docstore.ErrNotFound
		}
		return docstore.Document{}, err
	}

	fields := make(map[string]interface{})
	if err := json.Unmarshal(data.Bytes, &fields); err != nil {
		return docstore.Document{}, fmt.Errorf("decoding document %s: %w", path, err)
	}

	return docstore.Document{Path: path, Fields: fields, Version: version}, nil
}

// Query lists documents of a collection matching all filters. Equality filters
// compile to jsonb containment so they can use a GIN index.
func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	s.logger.Debugf("Querying collection (%s) with %d filters", collection, len(filters))

	sql := "select id, data, version from documents where collection = $1"
	args := []interface{}{collection}

	for _, f := range filters {
		switch f.Op {
		case docstore.FilterEq:
			probe, err := json.Marshal(map[string]interface{}{f.Field: f.Value})
			if err != nil {
				return nil, err
			}
			args = append(args, string(probe))
			sql += fmt.Sprintf(" and data @> $%d::jsonb", len(args))
		case docstore.FilterContains:
			probe, err := json.Marshal([]interface{}{f.Value})
			if err != nil {
				return nil, err
			}
			args = append(args, f.Field, string(probe))
			sql += fmt.Sprintf(" and data->$%d @> $%d::jsonb", len(args)-1, len(args))
		default:
			return nil, docstore.ErrBadFilterOp
		}
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var (
			id      string
			data    pgtype.JSONB
			version int64
		)
		if err := rows.Scan(&id, &data, &version); err != nil {
			return nil, err
		}

		fields := make(map[string]interface{})
		if err := json.Unmarshal(data.Bytes, &fields); err != nil {
			return nil, err
		}

		docs = append(docs, docstore.Document{
			Path:    docstore.Path{Collection: collection, ID: id},
			Fields:  fields,
			Version: version,
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return docs, nil
}

// Commit applies the batch inside one transaction. Writes carrying transforms
// lock their row first so concurrent set mutations merge instead of clobbering
// each other.
func (s *Store) Commit(ctx context.Context, writes []docstore.Write) error {
	if len(writes) == 0 {
		return docstore.ErrEmptyCommit
	}
	if len(writes) > docstore.MaxCommitWrites {
		return docstore.ErrTooManyWrites
	}

	s.logger.Debugf("Committing %d writes", len(writes))

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions
	defer tx.Rollback(context.Background())

	for _, w := range writes {
		if err := s.applyWrite(ctx, tx, w); err != nil {
			return mapPgError(err)
		}

		payload, err := json.Marshal(map[string]interface{}{
			"collection": w.Path.Collection,
			"id":         w.Path.ID,
			"deleted":    w.Op == docstore.OpDelete,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "select pg_notify($1, $2)", notifyChannel, string(payload)); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) applyWrite(ctx context.Context, tx pgx.Tx, w docstore.Write) error {
	switch w.Op {
	case docstore.OpDelete:
		_, err := tx.Exec(ctx,
			"delete from documents where collection = $1 and id = $2",
			w.Path.Collection, w.Path.ID)
		return err

	case docstore.OpSet:
		data, err := marshalFields(w.Fields)
		if err != nil {
			return err
		}
		sql := `insert into documents (collection, id, data, updated_at)
				values ($1, $2, $3, now())
				on conflict (collection, id) do update
				set data = excluded.data, version = documents.version + 1, updated_at = now()`
		if _, err := tx.Exec(ctx, sql, w.Path.Collection, w.Path.ID, data); err != nil {
			return err
		}

	case docstore.OpMerge:
		data, err := marshalFields(w.Fields)
		if err != nil {
			return err
		}
		sql := `insert into documents (collection, id, data, updated_at)
				values ($1, $2, $3, now())
				on conflict (collection, id) do update
				set data = documents.data || excluded.data,
					version = documents.version + 1, updated_at = now()`
		if _, err := tx.Exec(ctx, sql, w.Path.Collection, w.Path.ID, data); err != nil {
			return err
		}

	default:
		return fmt.Errorf("pgstore: unknown write op %d", w.Op)
	}

	if len(w.Transforms) == 0 {
		return nil
	}
	return s.applyTransforms(ctx, tx, w)
}

// applyTransforms re-reads the freshly written row under a lock, applies the
// set mutations in Go and writes the document back. The row lock makes the
// read-modify-write atomic with respect to other commits.
func (s *Store) applyTransforms(ctx context.Context, tx pgx.Tx, w docstore.Write) error {
	var data pgtype.JSONB
	sql := "select data from documents where collection = $1 and id = $2 for update"
	if err := tx.QueryRow(ctx, sql, w.Path.Collection, w.Path.ID).Scan(&data); err != nil {
		return err
	}

	fields := make(map[string]interface{})
	if err := json.Unmarshal(data.Bytes, &fields); err != nil {
		return err
	}

	for _, tr := range w.Transforms {
		if err := docstore.ApplyTransform(fields, tr); err != nil {
			return err
		}
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		"update documents set data = $3, version = version + 1, updated_at = now() where collection = $1 and id = $2",
		w.Path.Collection, w.Path.ID, out)
	return err
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.db.Close()
}

// marshalFields renders a field map as jsonb, treating a nil map as the empty
// document rather than json null.
func marshalFields(fields map[string]interface{}) ([]byte, error) {
	if fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(fields)
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return fmt.Errorf("%w: %v", docstore.ErrVersionClash, err)
		}
	}
	return err
}
