// internal/databridge/postgres.go
package databridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// ViewPrefix prefixes every view created for a filtered source.
const ViewPrefix = "scraperflow_view_"

// DBPool abstracts *pgxpool.Pool so the bridge can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// boundSource is a declared source resolved against the database.
type boundSource struct {
	alias string
	// table receives writes; relation (the table or a view over it) is read.
	table    pgx.Identifier
	relation pgx.Identifier
	key      string
}

// PostgresBridge is the Bridge over a PostgreSQL database. Filtered sources
// are bound to views that live until Close.
type PostgresBridge struct {
	pool DBPool
	log  *zap.Logger

	sources map[string]*boundSource
	cursor  *cursor

	mu    sync.Mutex
	views []pgx.Identifier
}

// Open binds every declaration and the optional iterator. On failure the views
// created so far are dropped before returning. Callers must defer Close.
func Open(ctx context.Context, pool DBPool, decls []schemas.DataSourceDeclaration, it schemas.Iterator, logger *zap.Logger) (*PostgresBridge, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &PostgresBridge{
		pool:    pool,
		log:     logger.Named("databridge"),
		sources: make(map[string]*boundSource, len(decls)),
	}
	if err := b.bind(ctx, decls, it); err != nil {
		if closeErr := b.Close(context.WithoutCancel(ctx)); closeErr != nil {
			b.log.Error("Failed to drop views after a bind error", zap.Error(closeErr))
		}
		return nil, err
	}
	return b, nil
}

func (b *PostgresBridge) bind(ctx context.Context, decls []schemas.DataSourceDeclaration, it schemas.Iterator) error {
	for _, d := range decls {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := b.sources[d.SourceAlias]; dup {
			return fmt.Errorf("data source %q declared twice", d.SourceAlias)
		}
		table := tableIdentifier(d.SourceTableName)
		src := &boundSource{alias: d.SourceAlias, table: table, relation: table, key: d.Key()}
		if len(d.Filter) > 0 {
			view, err := b.createView(ctx, table, d.Filter)
			if err != nil {
				return fmt.Errorf("failed to bind source %q: %w", d.SourceAlias, err)
			}
			src.relation = view
		}
		b.sources[d.SourceAlias] = src
	}

	total := 0
	if it != nil {
		src, ok := b.sources[it.Source()]
		if !ok {
			return fmt.Errorf("%w: iterator source %q", ErrUnknownSource, it.Source())
		}
		switch t := it.(type) {
		case schemas.FilteredSetIterator:
			view, err := b.createView(ctx, src.relation, t.Filter)
			if err != nil {
				return fmt.Errorf("failed to bind iterator over %q: %w", src.alias, err)
			}
			src.relation = view
			if total, err = b.count(ctx, src); err != nil {
				return err
			}
		case schemas.EntireSetIterator:
			var err error
			if total, err = b.count(ctx, src); err != nil {
				return err
			}
		}
	}
	b.cursor = newCursor(it, total)
	return nil
}

func (b *PostgresBridge) createView(ctx context.Context, over pgx.Identifier, filter schemas.Filter) (pgx.Identifier, error) {
	where, err := buildPredicate(filter)
	if err != nil {
		return nil, err
	}
	name := pgx.Identifier{ViewPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")}
	sql := fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM %s WHERE %s", name.Sanitize(), over.Sanitize(), where)
	if _, err := b.pool.Exec(ctx, sql); err != nil {
		return nil, fmt.Errorf("failed to create view: %w", err)
	}
	b.mu.Lock()
	b.views = append(b.views, name)
	b.mu.Unlock()
	b.log.Debug("Created filtered view.", zap.String("view", name.Sanitize()), zap.String("over", over.Sanitize()))
	return name, nil
}

func (b *PostgresBridge) count(ctx context.Context, src *boundSource) (int, error) {
	var n int64
	if err := b.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", src.relation.Sanitize())).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %q: %w", src.alias, err)
	}
	return int(n), nil
}

// Close drops every view created by the bridge, newest first. It is safe to
// call more than once.
func (b *PostgresBridge) Close(ctx context.Context) error {
	b.mu.Lock()
	views := b.views
	b.views = nil
	b.mu.Unlock()

	var errs []error
	for i := len(views) - 1; i >= 0; i-- {
		if _, err := b.pool.Exec(ctx, "DROP VIEW IF EXISTS "+views[i].Sanitize()); err != nil {
			errs = append(errs, fmt.Errorf("failed to drop view %s: %w", views[i].Sanitize(), err))
		}
	}
	return errors.Join(errs...)
}

func (b *PostgresBridge) source(name string) (*boundSource, error) {
	src, ok := b.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return src, nil
}

// rowKeySubquery selects the key of the row under the cursor of src.
func rowKeySubquery(src *boundSource, offsetParam int) string {
	key := pgx.Identifier{src.key}.Sanitize()
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT 1 OFFSET $%d", key, src.relation.Sanitize(), key, offsetParam)
}

// Get reads one column of the row under the cursor. A missing row reads as nil.
func (b *PostgresBridge) Get(ctx context.Context, key string) (schemas.Scalar, error) {
	sourceName, column, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	src, err := b.source(sourceName)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT 1 OFFSET $1",
		pgx.Identifier{column}.Sanitize(), src.relation.Sanitize(), pgx.Identifier{src.key}.Sanitize())

	var value any
	err = b.pool.QueryRow(ctx, sql, b.cursor.offset(sourceName)).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return coerce(value), nil
}

// Set writes one column of the row under the cursor.
func (b *PostgresBridge) Set(ctx context.Context, key string, value schemas.Scalar) error {
	sourceName, column, err := ParseKey(key)
	if err != nil {
		return err
	}
	return b.SetMany(ctx, sourceName, []Column{{Name: column, Value: value}})
}

// SetMany updates the row under the cursor, inserting a new row when there is
// none at that offset.
func (b *PostgresBridge) SetMany(ctx context.Context, sourceName string, items []Column) error {
	if len(items) == 0 {
		return nil
	}
	src, err := b.source(sourceName)
	if err != nil {
		return err
	}

	assignments := make([]string, len(items))
	columns := make([]string, len(items))
	placeholders := make([]string, len(items))
	args := make([]any, 0, len(items)+1)
	for i, item := range items {
		if item.Name == "" {
			return fmt.Errorf("%w: empty column name for source %q", ErrInvalidKey, sourceName)
		}
		col := pgx.Identifier{item.Name}.Sanitize()
		columns[i] = col
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		assignments[i] = fmt.Sprintf("%s = $%d", col, i+1)
		args = append(args, item.Value)
	}

	update := fmt.Sprintf("UPDATE %s SET %s WHERE %s = (%s)",
		src.table.Sanitize(), strings.Join(assignments, ", "),
		pgx.Identifier{src.key}.Sanitize(), rowKeySubquery(src, len(items)+1))
	tag, err := b.pool.Exec(ctx, update, append(args, b.cursor.offset(sourceName))...)
	if err != nil {
		return fmt.Errorf("failed to update %q: %w", sourceName, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		src.table.Sanitize(), strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := b.pool.Exec(ctx, insert, args...); err != nil {
		return fmt.Errorf("failed to insert into %q: %w", sourceName, err)
	}
	b.log.Debug("No row at cursor; inserted a new one.", zap.String("source", sourceName))
	return nil
}

// Delete removes the row under the cursor of sourceName.
func (b *PostgresBridge) Delete(ctx context.Context, sourceName string) error {
	_, err := b.deleteRow(ctx, sourceName)
	return err
}

func (b *PostgresBridge) deleteRow(ctx context.Context, sourceName string) (bool, error) {
	src, err := b.source(sourceName)
	if err != nil {
		return false, err
	}
	if !b.cursor.bound(sourceName) {
		b.log.Error("Refusing to delete: the active iterator is not bound to this source.",
			zap.String("source", sourceName))
		return false, nil
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = (%s)",
		src.table.Sanitize(), pgx.Identifier{src.key}.Sanitize(), rowKeySubquery(src, 1))
	tag, err := b.pool.Exec(ctx, sql, b.cursor.offset(sourceName))
	if err != nil {
		return true, fmt.Errorf("failed to delete from %q: %w", sourceName, err)
	}
	if tag.RowsAffected() > 0 {
		b.cursor.deleted()
	}
	return true, nil
}

// GetSchema reads column types from information_schema for every source.
// Unqualified tables are looked up in the current schema.
func (b *PostgresBridge) GetSchema(ctx context.Context) (Schema, error) {
	const query = `
        SELECT column_name, data_type
        FROM information_schema.columns
        WHERE table_name = $1
          AND table_schema = COALESCE(NULLIF($2::text, ''), current_schema())
        ORDER BY ordinal_position`

	schema := make(Schema)
	for alias, src := range b.sources {
		tableSchema := ""
		if len(src.table) > 1 {
			tableSchema = src.table[len(src.table)-2]
		}
		rows, err := b.pool.Query(ctx, query, src.table[len(src.table)-1], tableSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema of %q: %w", alias, err)
		}
		for rows.Next() {
			var name, typ string
			if err := rows.Scan(&name, &typ); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan schema row: %w", err)
			}
			schema[alias+"."+name] = typ
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during schema iteration: %w", err)
		}
	}
	return schema, nil
}

func (b *PostgresBridge) NextIteration()        { b.cursor.next() }
func (b *PostgresBridge) IsLastIteration() bool { return b.cursor.isLast() }

func (b *PostgresBridge) ResolveSpecialString(ctx context.Context, s string) string {
	return ResolveSpecialString(ctx, b, s)
}

// tableIdentifier splits an optionally schema-qualified table name.
func tableIdentifier(name string) pgx.Identifier {
	return pgx.Identifier(strings.Split(name, "."))
}
