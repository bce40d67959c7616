package db

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
)

// ErrNotFound is returned when an update addresses an id that is not stored.
var ErrNotFound = errors.New("record not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// InTx runs fn inside one store transaction. Store calls made with the
// context passed to fn join that transaction; calls made while a transaction
// is already bound to ctx join the outer one. The transaction is rolled back
// when fn returns an error.
//
// A transaction is bound to a single connection: do not issue concurrent
// calls with the transactional context.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db.conn
}

// FindAll returns every record of the kind, ordered by id. Each record
// carries its id alongside the stored fields.
func (db *DB) FindAll(ctx context.Context, kind schema.Kind) ([]schema.Record, error) {
	table, err := kind.Table()
	if err != nil {
		return nil, err
	}

	rows, err := db.q(ctx).QueryContext(ctx, "SELECT id, fields FROM "+table+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	records := make([]schema.Record, 0)
	for rows.Next() {
		var (
			id     int64
			fields string
		)
		if err := rows.Scan(&id, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		rec, err := decodeFields(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s %d: %w", table, id, err)
		}
		rec[schema.IDField] = id
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
	}

	return records, nil
}

// Create inserts a record and returns it with its store-assigned id.
// Any id or phantom keys in fields are ignored.
func (db *DB) Create(ctx context.Context, kind schema.Kind, fields schema.Record) (schema.Record, error) {
	table, err := kind.Table()
	if err != nil {
		return nil, err
	}

	payload := fields.Fields()
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s fields: %w", table, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	id, err := execLastInsertID(ctx, db.q(ctx),
		"INSERT INTO "+table+" (fields, created_at, updated_at) VALUES (?, ?, ?)",
		string(data), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	payload[schema.IDField] = id
	return payload, nil
}

// Update merges partial into the stored record addressed by id. Keys present
// in partial overwrite stored values (explicit nulls included); absent keys
// are kept. Returns ErrNotFound when no such record exists.
func (db *DB) Update(ctx context.Context, kind schema.Kind, id int64, partial schema.Record) error {
	table, err := kind.Table()
	if err != nil {
		return err
	}

	return db.InTx(ctx, func(ctx context.Context) error {
		q := db.q(ctx)

		var stored string
		err := q.QueryRowContext(ctx, "SELECT fields FROM "+table+" WHERE id = ?", id).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read %s %d: %w", table, id, err)
		}

		merged, err := decodeFields(stored)
		if err != nil {
			return fmt.Errorf("failed to decode %s %d: %w", table, id, err)
		}
		for k, v := range partial.Fields() {
			merged[k] = v
		}

		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %d: %w", table, id, err)
		}

		return execRowsAffected(ctx, q,
			"UPDATE "+table+" SET fields = ?, updated_at = ? WHERE id = ?",
			fmt.Sprintf("%s %d", table, id),
			string(data), time.Now().UTC().Format(time.RFC3339Nano), id)
	})
}

// DeleteMany removes all listed ids in a single statement. Ids that are not
// stored are ignored. When tasks are removed and cascading is enabled,
// dependencies referencing any removed task are deleted as well.
func (db *DB) DeleteMany(ctx context.Context, kind schema.Kind, ids []int64) error {
	table, err := kind.Table()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders, args := inClause(ids)

	del := func(ctx context.Context) error {
		q := db.q(ctx)
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE id IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
		if kind != schema.KindTasks || !db.opts.CascadeDependencies {
			return nil
		}

		from := endpointExpr(db.opts.FromField)
		to := endpointExpr(db.opts.ToField)
		query := "DELETE FROM dependencies WHERE " +
			from + " IN (" + placeholders + ") OR " + to + " IN (" + placeholders + ")"
		res, err := q.ExecContext(ctx, query, append(append([]any{}, args...), args...)...)
		if err != nil {
			return fmt.Errorf("failed to delete orphaned dependencies: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			db.logger.Printf("Removed %d dependencies of deleted tasks", n)
		}
		return nil
	}

	if kind == schema.KindTasks && db.opts.CascadeDependencies {
		return db.InTx(ctx, del)
	}
	return del(ctx)
}

// Count returns the number of stored records of the kind.
func (db *DB) Count(ctx context.Context, kind schema.Kind) (int, error) {
	table, err := kind.Table()
	if err != nil {
		return 0, err
	}

	var count int
	if err := db.q(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

// GetTaskCount returns the total number of tasks.
func (db *DB) GetTaskCount() (int, error) {
	return db.GetTaskCountContext(context.Background())
}

// GetTaskCountContext returns the total number of tasks with context support.
func (db *DB) GetTaskCountContext(ctx context.Context) (int, error) {
	return db.Count(ctx, schema.KindTasks)
}

// GetDepCount returns the total number of dependencies.
func (db *DB) GetDepCount() (int, error) {
	return db.GetDepCountContext(context.Background())
}

// GetDepCountContext returns the total number of dependencies with context support.
func (db *DB) GetDepCountContext(ctx context.Context) (int, error) {
	return db.Count(ctx, schema.KindDependencies)
}

// endpointExpr matches the expression indexes created by migration 2 for
// the default field names.
func endpointExpr(field string) string {
	return "CAST(json_extract(fields, '$." + field + "') AS INTEGER)"
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

func decodeFields(data string) (schema.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	rec := make(schema.Record)
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = make(schema.Record)
	}
	return rec, nil
}

func execLastInsertID(ctx context.Context, q querier, query string, args ...any) (int64, error) {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

func execRowsAffected(ctx context.Context, q querier, query, entity string, args ...any) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return nil
}
