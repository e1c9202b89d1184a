// Package store provides the durable SQLite-backed entity store for shelf.
//
// The store runs in embedded mode using the ncruces SQLite driver with WAL
// for concurrent reads. One SQL table is created per registered schema
// table; all mutation goes through per-call transactions, so a failed
// UpsertMany or DeleteMany leaves the table exactly as it was.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shelfapp/shelf/internal/schema"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection plus the schema registry it was opened
// against. It is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	conn *sql.DB
	reg  *schema.Registry
	path string
}

// Open opens or creates the database at path and ensures every registered
// table exists with the registered column set.
//
// Parent directories are created as needed. The database is opened with WAL
// mode, a 5 second busy timeout, and foreign keys enabled. If an existing
// table's on-disk columns conflict with the registry, Open fails with
// ErrSchemaMismatch.
//
// The caller MUST call Close() when done.
func Open(path string, reg *schema.Registry) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		reg:  reg,
		path: path,
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := s.initTables(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the on-disk database path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and releases the connection. Calling Close more
// than once is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// db returns the live connection, or ErrStoreClosed after Close.
func (s *Store) db() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrStoreClosed
	}
	return s.conn, nil
}

// table resolves a registered table by name.
func (s *Store) table(name string) (*schema.Table, error) {
	tbl, ok := s.reg.Table(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return tbl, nil
}

// initTables creates missing tables and verifies existing ones against the
// registry.
func (s *Store) initTables() error {
	for _, tbl := range s.reg.Tables() {
		if err := s.initTable(tbl); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) initTable(tbl *schema.Table) error {
	defs := make([]string, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		def := col.Name + " " + sqliteType(col.Type)
		if col.Name == "id" {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", tbl.Name, strings.Join(defs, ", "))
	if _, err := s.conn.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tbl.Name, err)
	}

	onDisk, err := s.diskColumns(tbl.Name)
	if err != nil {
		return err
	}
	if len(onDisk) != len(tbl.Columns) {
		return fmt.Errorf("%w: table %s has %d columns on disk, registry declares %d",
			ErrSchemaMismatch, tbl.Name, len(onDisk), len(tbl.Columns))
	}
	for _, col := range tbl.Columns {
		typ, ok := onDisk[col.Name]
		if !ok {
			return fmt.Errorf("%w: table %s is missing column %s on disk",
				ErrSchemaMismatch, tbl.Name, col.Name)
		}
		if !strings.EqualFold(typ, sqliteType(col.Type)) {
			return fmt.Errorf("%w: table %s column %s is %s on disk, registry declares %s",
				ErrSchemaMismatch, tbl.Name, col.Name, typ, sqliteType(col.Type))
		}
	}
	return nil
}

// diskColumns returns the on-disk column name -> declared type mapping.
func (s *Store) diskColumns(table string) (map[string]string, error) {
	rows, err := s.conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table_info for %s: %w", table, err)
		}
		cols[name] = typ
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating table_info for %s: %w", table, err)
	}
	return cols, nil
}

// FetchByIDs returns the stored records for the given ids, keyed by id.
// Missing ids are simply absent from the result, never an error.
func (s *Store) FetchByIDs(ctx context.Context, table string, ids []string) (map[string]schema.Record, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}
	tbl, err := s.table(table)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]schema.Record{}, nil
	}

	names := columnNames(tbl)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id IN (%s)",
		strings.Join(names, ", "), tbl.Name, placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]schema.Record, len(ids))
	for rows.Next() {
		rec, err := scanRecord(rows, tbl)
		if err != nil {
			return nil, err
		}
		out[rec.ID()] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", table, err)
	}
	return out, nil
}

// UpsertMany inserts or replaces the given records in a single transaction.
// A failure midway rolls everything back; the table keeps its pre-call state.
func (s *Store) UpsertMany(ctx context.Context, table string, records []schema.Record) error {
	conn, err := s.db()
	if err != nil {
		return err
	}
	tbl, err := s.table(table)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	names := columnNames(tbl)
	assigns := make([]string, 0, len(names))
	for _, name := range names {
		if name == "id" {
			continue
		}
		assigns = append(assigns, fmt.Sprintf("%s = excluded.%s", name, name))
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		tbl.Name,
		strings.Join(names, ", "),
		strings.TrimSuffix(strings.Repeat("?,", len(names)), ","),
		strings.Join(assigns, ", "),
	)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert for %s: %w", table, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		args := make([]any, 0, len(names))
		for _, name := range names {
			col, _ := tbl.Column(name)
			args = append(args, bindValue(rec[name], col.Type))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to upsert %s into %s: %w", rec.ID(), table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert for %s: %w", table, err)
	}
	return nil
}

// DeleteMany removes rows by id in a single transaction and returns the
// number actually deleted. Deleting an absent id is a no-op.
func (s *Store) DeleteMany(ctx context.Context, table string, ids []string) (int64, error) {
	conn, err := s.db()
	if err != nil {
		return 0, err
	}
	tbl, err := s.table(table)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", tbl.Name, placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows in %s: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete for %s: %w", table, err)
	}
	return deleted, nil
}

// Count returns the number of rows in a registered table.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	conn, err := s.db()
	if err != nil {
		return 0, err
	}
	tbl, err := s.table(table)
	if err != nil {
		return 0, err
	}

	var count int
	err = conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", tbl.Name)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s rows: %w", table, err)
	}
	return count, nil
}

// columnNames returns the table's column names in declaration order.
func columnNames(tbl *schema.Table) []string {
	names := make([]string, len(tbl.Columns))
	for i, col := range tbl.Columns {
		names[i] = col.Name
	}
	return names
}

// sqliteType maps a schema kind to its SQLite column type.
func sqliteType(k schema.Kind) string {
	switch k {
	case schema.KindInt, schema.KindBool:
		return "INTEGER"
	case schema.KindReal:
		return "REAL"
	default:
		// text, timestamp (RFC 3339) and json all live in TEXT columns
		return "TEXT"
	}
}

// bindValue converts a typed value to its SQL representation. A nil value
// binds the column's type-appropriate NULL-safe zero.
func bindValue(v schema.Value, kind schema.Kind) any {
	switch val := v.(type) {
	case schema.Text:
		return string(val)
	case schema.Int:
		return int64(val)
	case schema.Real:
		return float64(val)
	case schema.Bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case schema.Time:
		if val.IsZero() {
			return sql.NullString{}
		}
		return sql.NullString{String: time.Time(val).UTC().Format(time.RFC3339), Valid: true}
	case schema.JSON:
		return string(val)
	default:
		if kind == schema.KindTime {
			return sql.NullString{}
		}
		return bindValue(zeroFor(kind), kind)
	}
}

// zeroFor mirrors the schema defaults for columns absent from a record.
func zeroFor(kind schema.Kind) schema.Value {
	switch kind {
	case schema.KindInt:
		return schema.Int(0)
	case schema.KindReal:
		return schema.Real(0)
	case schema.KindBool:
		return schema.Bool(false)
	case schema.KindJSON:
		return schema.JSON("null")
	default:
		return schema.Text("")
	}
}

// scanRecord reads one row into a typed record using the table's columns.
func scanRecord(rows *sql.Rows, tbl *schema.Table) (schema.Record, error) {
	dest := make([]any, len(tbl.Columns))
	for i, col := range tbl.Columns {
		switch col.Type {
		case schema.KindInt, schema.KindBool:
			dest[i] = new(sql.NullInt64)
		case schema.KindReal:
			dest[i] = new(sql.NullFloat64)
		default:
			dest[i] = new(sql.NullString)
		}
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan %s row: %w", tbl.Name, err)
	}

	rec := make(schema.Record, len(tbl.Columns))
	for i, col := range tbl.Columns {
		switch col.Type {
		case schema.KindText:
			rec[col.Name] = schema.Text(dest[i].(*sql.NullString).String)
		case schema.KindInt:
			rec[col.Name] = schema.Int(dest[i].(*sql.NullInt64).Int64)
		case schema.KindReal:
			rec[col.Name] = schema.Real(dest[i].(*sql.NullFloat64).Float64)
		case schema.KindBool:
			rec[col.Name] = schema.Bool(dest[i].(*sql.NullInt64).Int64 != 0)
		case schema.KindTime:
			ns := dest[i].(*sql.NullString)
			if !ns.Valid || ns.String == "" {
				rec[col.Name] = schema.Time(time.Time{})
				continue
			}
			t, err := time.Parse(time.RFC3339, ns.String)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp in %s.%s: %w", tbl.Name, col.Name, err)
			}
			rec[col.Name] = schema.Time(t)
		case schema.KindJSON:
			ns := dest[i].(*sql.NullString)
			if !ns.Valid || ns.String == "" {
				rec[col.Name] = schema.JSON("null")
				continue
			}
			rec[col.Name] = schema.JSON(ns.String)
		}
	}
	return rec, nil
}

// SortedIDs returns a copy of ids in lexical order. Fetch and delete results
// don't depend on order, but deterministic SQL makes logs and tests stable.
func SortedIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
