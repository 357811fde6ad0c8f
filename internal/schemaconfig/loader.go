package schemaconfig

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"mongosql/internal/replicate"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ── Concrete SchemaLoader ──────────────────────────────────
// Owns the target *sql.DB and the namespace->table mapping decoded from
// the TOML config. CreateSchema and CopyData are the two operations that
// need direct target access rather than going through the per-row
// SQLAdapter: one-shot DDL and a single bulk round trip per flush.

// Loader is the concrete replicate.SchemaLoader backed by a TOML schema
// mapping and a target database/sql connection.
type Loader struct {
	db        *sql.DB
	driver    string
	databases []string
	byDB      map[string][]string
	specs     map[string]*namespaceSpec
}

// New opens the target database described by cfg.Target and builds the
// namespace mapping from cfg.Namespaces, in file order.
func New(cfg *Config) (*Loader, error) {
	db, err := sql.Open(cfg.Target.Driver, cfg.Target.DSN)
	if err != nil {
		return nil, fmt.Errorf("open target %s: %w", cfg.Target.Driver, err)
	}

	l := &Loader{
		db:     db,
		driver: cfg.Target.Driver,
		byDB:   map[string][]string{},
		specs:  map[string]*namespaceSpec{},
	}

	for _, nc := range cfg.Namespaces {
		ns, ok := replicate.ParseNamespace(nc.NS)
		if !ok {
			db.Close()
			return nil, fmt.Errorf("malformed namespace %q", nc.NS)
		}
		if _, exists := l.byDB[ns.Database]; !exists {
			l.databases = append(l.databases, ns.Database)
		}
		l.byDB[ns.Database] = append(l.byDB[ns.Database], ns.Collection)
		l.specs[nc.NS] = &namespaceSpec{
			table:   &tableHandle{db: db, name: nc.Table},
			columns: nc.Columns,
			pk:      nc.PrimaryKey,
		}
	}

	return l, nil
}

// Close closes the underlying target connection.
func (l *Loader) Close() error { return l.db.Close() }

// DB exposes the target connection for collaborators (the SQL adapter)
// that need to share the same pool for per-row writes.
func (l *Loader) DB() *sql.DB { return l.db }

// Driver reports the configured target driver name.
func (l *Loader) Driver() string { return l.driver }

func (l *Loader) FindDB(dbName string) ([]string, bool) {
	colls, ok := l.byDB[dbName]
	return colls, ok
}

func (l *Loader) FindNS(ns string) (replicate.NamespaceSpec, bool) {
	spec, ok := l.specs[ns]
	if !ok {
		return nil, false
	}
	return spec, true
}

func (l *Loader) Databases() []string { return l.databases }

// CreateSchema applies one CREATE TABLE per configured namespace, grouped
// by source database in the order each database first appears in the
// file, dropping the table first if dropFirst is set.
func (l *Loader) CreateSchema(ctx context.Context, dropFirst bool) error {
	for _, ns := range l.orderedNamespaces() {
		spec := l.specs[ns]
		table := spec.table.(*tableHandle)

		if dropFirst {
			if _, err := l.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(table.name))); err != nil {
				return fmt.Errorf("drop %s: %w", table.name, err)
			}
		}

		ddl := buildCreateTable(l.driver, table.name, spec.columns, spec.pk)
		if _, err := l.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", table.name, err)
		}
	}
	return nil
}

func (l *Loader) orderedNamespaces() []string {
	var order []string
	for _, dbName := range l.databases {
		for _, coll := range l.byDB[dbName] {
			order = append(order, dbName+"."+coll)
		}
	}
	return order
}

// sqlColumnType maps a column's named coercion to the target column type.
// MySQL has no DOUBLE PRECISION/BOOLEAN synonyms the way Postgres does, so
// the driver picks its own spelling for the float and bool cases.
func sqlColumnType(driver string, coerce Coercion) string {
	switch coerce {
	case CoerceInt:
		return "BIGINT"
	case CoerceFloat:
		if driver == "mysql" {
			return "DOUBLE"
		}
		return "DOUBLE PRECISION"
	case CoerceBool:
		if driver == "mysql" {
			return "TINYINT(1)"
		}
		return "BOOLEAN"
	case CoerceTimestamp:
		return "TIMESTAMP"
	case CoerceObjectIDHex, CoerceString:
		return "TEXT"
	default:
		return "TEXT"
	}
}

func buildCreateTable(driver, table string, columns []ColumnConfig, pk string) string {
	var cols []string
	for _, c := range columns {
		colType := sqlColumnType(driver, c.Type)
		if c.Name == pk {
			cols = append(cols, fmt.Sprintf("%s %s PRIMARY KEY", quoteIdent(c.Name), colType))
		} else {
			cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(c.Name), colType))
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CopyData bulk-loads rows into ns's target table in one round trip:
// pq.CopyIn under Postgres, a single multi-row INSERT under MySQL (which
// has no native COPY protocol).
func (l *Loader) CopyData(ctx context.Context, ns string, rows []replicate.RowTuple) error {
	spec, ok := l.specs[ns]
	if !ok {
		return fmt.Errorf("no schema for %s", ns)
	}
	table := spec.table.(*tableHandle)

	if len(rows) == 0 {
		return nil
	}

	columns := spec.Columns()
	switch l.driver {
	case "postgres":
		return l.copyPostgres(ctx, table.name, columns, rows)
	case "mysql":
		return l.insertMySQL(ctx, table.name, columns, rows)
	default:
		return fmt.Errorf("unsupported target driver %q for bulk copy", l.driver)
	}
}

func (l *Loader) copyPostgres(ctx context.Context, table string, columns []string, rows []replicate.RowTuple) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin copy tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return fmt.Errorf("prepare copy %s: %w", table, err)
	}

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			return fmt.Errorf("copy row into %s: %w", table, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush copy into %s: %w", table, err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close copy statement for %s: %w", table, err)
	}

	return tx.Commit()
}

func (l *Loader) insertMySQL(ctx context.Context, table string, columns []string, rows []replicate.RowTuple) error {
	placeholders := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	rowPH := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	for i, row := range rows {
		placeholders[i] = rowPH
		args = append(args, row...)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		quoteIdent(table), strings.Join(quoteIdents(columns), ", "), strings.Join(placeholders, ", "))

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("bulk insert into %s: %w", table, err)
	}
	return nil
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

// namespaceSpec is the concrete NamespaceSpec for one configured namespace.
type namespaceSpec struct {
	table   replicate.TableHandle
	columns []ColumnConfig
	pk      string
}

func (s *namespaceSpec) Table() replicate.TableHandle { return s.table }

func (s *namespaceSpec) Columns() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

func (s *namespaceSpec) PrimaryKeyColumn() string { return s.pk }

// Transform resolves each column's source field path against doc and
// applies its named coercion, producing the row tuple in column order.
func (s *namespaceSpec) Transform(ns string, doc bson.M) (replicate.RowTuple, error) {
	row := make(replicate.RowTuple, len(s.columns))
	for i, col := range s.columns {
		v, ok := getPath(doc, col.Path)
		if !ok || v == nil {
			row[i] = nil
			continue
		}
		coerced, err := coerce(v, col.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", ns, col.Name, err)
		}
		row[i] = coerced
	}
	return row, nil
}

// getPath walks doc along path's dot-separated segments, descending into
// nested bson.M values. A missing segment anywhere along the way reports
// not-found rather than an error — a source document is free to omit any
// field a column maps to.
func getPath(doc bson.M, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = doc
	for _, seg := range segments {
		m, ok := cur.(bson.M)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// coerce converts v, a decoded BSON value of arbitrary type, into the Go
// value appropriate for to's target column type.
func coerce(v any, to Coercion) (any, error) {
	switch to {
	case CoerceString:
		return stringifyBSONValue(v), nil
	case CoerceInt:
		return coerceInt(v)
	case CoerceFloat:
		return coerceFloat(v)
	case CoerceBool:
		return coerceBool(v)
	case CoerceTimestamp:
		return coerceTimestamp(v)
	case CoerceObjectIDHex:
		return coerceObjectIDHex(v)
	default:
		return stringifyBSONValue(v), nil
	}
}

func coerceInt(v any) (any, error) {
	switch val := v.(type) {
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		return int64(val), nil
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("coerce %q to int: %w", val, err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to int", v)
	}
}

func coerceFloat(v any) (any, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("coerce %q to float: %w", val, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to float", v)
	}
}

func coerceBool(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("coerce %q to bool: %w", val, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to bool", v)
	}
}

func coerceTimestamp(v any) (any, error) {
	switch val := v.(type) {
	case bson.DateTime:
		return val.Time(), nil
	case time.Time:
		return val, nil
	case bson.Timestamp:
		return time.Unix(int64(val.T), 0).UTC(), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to timestamp", v)
	}
}

func coerceObjectIDHex(v any) (any, error) {
	switch val := v.(type) {
	case bson.ObjectID:
		return val.Hex(), nil
	case string:
		return val, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to objectid-hex", v)
	}
}

// stringifyBSONValue renders a decoded BSON value as display text, the
// way the teacher's connectors stringify heterogeneous driver values.
func stringifyBSONValue(v any) string {
	switch val := v.(type) {
	case bson.ObjectID:
		return val.Hex()
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// tableHandle is the concrete TableHandle for one configured namespace.
type tableHandle struct {
	db   *sql.DB
	name string
}

func (t *tableHandle) Name() string { return t.name }

func (t *tableHandle) Truncate(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", quoteIdent(t.name)))
	if err != nil {
		log.Printf("schemaconfig: truncate %s failed, falling back to DELETE: %v", t.name, err)
		_, err = t.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", quoteIdent(t.name)))
	}
	return err
}
