package sqladapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"mongosql/internal/replicate"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ── Concrete SQLAdapter ─────────────────────────────────────
// Per-row target writes for the tail loop and the bulk writer's
// fallback path. Shares the target *sql.DB with the schema loader so
// the per-row path and the bulk path see the same connection pool.

// Adapter is the concrete replicate.SQLAdapter over database/sql, with
// PostgreSQL and MySQL as supported target drivers.
type Adapter struct {
	db     *sql.DB
	driver string
	schema replicate.SchemaLoader
}

// New returns an Adapter writing through db, using schema to resolve a
// namespace's target table and transform.
func New(db *sql.DB, driver string, schema replicate.SchemaLoader) *Adapter {
	return &Adapter{db: db, driver: driver, schema: schema}
}

func (a *Adapter) AdapterScheme() string { return a.driver }

// SupportsStructuredRowErrors is true only for PostgreSQL, where lib/pq
// surfaces a typed *pq.Error with a server-assigned SQLSTATE code and
// message. go-sql-driver/mysql's *mysql.MySQLError carries similarly
// structured detail, but the reference policy reserves the unsafe-skip
// path for PostgreSQL.
func (a *Adapter) SupportsStructuredRowErrors() bool { return a.driver == "postgres" }

func (a *Adapter) Upsert(ctx context.Context, table replicate.TableHandle, pkColumn string, row map[string]any) error {
	columns := make([]string, 0, len(row))
	for col := range row {
		columns = append(columns, col)
	}

	query, args := a.buildUpsert(table.Name(), pkColumn, columns, row)
	_, err := a.db.ExecContext(ctx, query, args...)
	return err
}

func (a *Adapter) buildUpsert(table, pkColumn string, columns []string, row map[string]any) (string, []any) {
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	var setClauses []string
	for i, col := range columns {
		placeholders[i] = a.placeholder(i + 1)
		args[i] = row[col]
		if col != pkColumn {
			setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(col), quoteIdent(col)))
		}
	}

	base := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoteIdents(columns), ", "), strings.Join(placeholders, ", "))

	switch a.driver {
	case "postgres":
		if len(setClauses) == 0 {
			return base + fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", quoteIdent(pkColumn)), args
		}
		return base + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", quoteIdent(pkColumn), strings.Join(setClauses, ", ")), args
	case "mysql":
		var mysqlClauses []string
		for _, col := range columns {
			if col == pkColumn {
				continue
			}
			mysqlClauses = append(mysqlClauses, fmt.Sprintf("%s = VALUES(%s)", quoteIdent(col), quoteIdent(col)))
		}
		if len(mysqlClauses) == 0 {
			return base, args
		}
		return base + " ON DUPLICATE KEY UPDATE " + strings.Join(mysqlClauses, ", "), args
	default:
		return base, args
	}
}

func (a *Adapter) placeholder(i int) string {
	if a.driver == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (a *Adapter) UpsertNS(ctx context.Context, ns string, doc bson.M) error {
	spec, ok := a.schema.FindNS(ns)
	if !ok {
		return fmt.Errorf("no schema for %s", ns)
	}
	row, err := spec.Transform(ns, doc)
	if err != nil {
		return fmt.Errorf("transform %s: %w", ns, err)
	}
	return a.Upsert(ctx, spec.Table(), spec.PrimaryKeyColumn(), zipColumns(spec.Columns(), row))
}

func (a *Adapter) TransformOneNS(ns string, id any) (map[string]any, error) {
	spec, ok := a.schema.FindNS(ns)
	if !ok {
		return nil, fmt.Errorf("no schema for %s", ns)
	}
	row, err := spec.Transform(ns, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", ns, err)
	}
	return zipColumns(spec.Columns(), row), nil
}

func (a *Adapter) DeleteNS(ctx context.Context, ns string, selector bson.M) error {
	spec, ok := a.schema.FindNS(ns)
	if !ok {
		return fmt.Errorf("no schema for %s", ns)
	}
	id, ok := selector["_id"]
	if !ok {
		return fmt.Errorf("delete selector for %s has no _id", ns)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		quoteIdent(spec.Table().Name()), quoteIdent(spec.PrimaryKeyColumn()), a.placeholder(1))
	_, err := a.db.ExecContext(ctx, query, stringifyID(id))
	return err
}

func stringifyID(id any) string {
	if oid, ok := id.(bson.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", id)
}

func zipColumns(columns []string, row replicate.RowTuple) map[string]any {
	m := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(row) {
			m[col] = row[i]
		}
	}
	return m
}

// IsDatabaseError reports whether err originated from the target
// database driver, as opposed to e.g. a context cancellation — the
// signal the bulk writer degrades on.
func (a *Adapter) IsDatabaseError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return true
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	return isLikelyDriverError(err)
}

// isLikelyDriverError falls back to string sniffing for drivers that
// don't return a typed error for every failure class — a constraint
// violation reported only as a plain *errors.errorString, for instance.
func isLikelyDriverError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"constraint", "duplicate", "syntax error", "violates", "sqlstate"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// StructuredRowError extracts the lib/pq error detail the unsafe-skip
// path logs and swallows the row for.
func (a *Adapter) StructuredRowError(err error) (string, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return "", false
	}
	return fmt.Sprintf("%s: %s (%s)", pqErr.Code, pqErr.Message, pqErr.Detail), true
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}
