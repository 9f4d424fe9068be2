package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
)

const (
	// DefaultMaxRows applies when a caller omits max_rows.
	DefaultMaxRows = 500
	// HardMaxRows is the ceiling on rows per query, regardless of caller input.
	HardMaxRows = 10_000
)

// tableRef is one entry in the mssql_list_tables result.
type tableRef struct {
	Schema    string `json:"schema"`
	TableName string `json:"table_name"`
}

// mssqlGateway runs bounded read queries against Azure SQL / MSSQL. Every
// call opens a fresh connection and tears it down on return; there is no
// pooling and no state shared between calls.
type mssqlGateway struct {
	cfg *MssqlConfig

	// driverName is "sqlserver" in production; tests substitute a stub
	// driver registered with database/sql.
	driverName string
}

func newMssqlGateway(cfg *MssqlConfig) *mssqlGateway {
	return &mssqlGateway{cfg: cfg, driverName: "sqlserver"}
}

// clampRows applies the default and the hard ceiling to a requested row count.
func clampRows(requested int) int {
	if requested <= 0 {
		requested = DefaultMaxRows
	}
	if requested > HardMaxRows {
		return HardMaxRows
	}
	return requested
}

func (g *mssqlGateway) open() (*sql.DB, error) {
	db, err := sql.Open(g.driverName, g.cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%w: opening MSSQL connection: %v", ErrConnection, err)
	}
	return db, nil
}

func (g *mssqlGateway) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.QueryTimeout > 0 {
		return context.WithTimeout(ctx, g.cfg.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

// ListTables returns all base tables in the connected database, ordered by
// schema then table name.
func (g *mssqlGateway) ListTables(ctx context.Context) ([]tableRef, error) {
	db, err := g.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ctx, cancel := g.callContext(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_SCHEMA, TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_SCHEMA, TABLE_NAME`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing tables: %v", ErrQuery, err)
	}
	defer rows.Close()

	tables := []tableRef{}
	for rows.Next() {
		var t tableRef
		if err := rows.Scan(&t.Schema, &t.TableName); err != nil {
			return nil, fmt.Errorf("%w: scanning table row: %v", ErrQuery, err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating table list: %v", ErrQuery, err)
	}

	return tables, nil
}

// ExecuteQuery runs a caller-supplied SQL query with a row cap and returns
// the result as one JSON-ready object per row.
//
// The only shaping applied is the TOP envelope below; the query is otherwise
// passed to the server verbatim, unvalidated. Access control is the
// connection string's job: the configured database user should hold
// least-privilege (read-only) permissions.
func (g *mssqlGateway) ExecuteQuery(ctx context.Context, query string, maxRows int) ([]map[string]any, error) {
	maxRows = clampRows(maxRows)

	db, err := g.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ctx, cancel := g.callContext(ctx)
	defer cancel()

	limited := fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS mcp_query", maxRows, query)

	rows, err := db.QueryContext(ctx, limited)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()

	return marshalRows(rows)
}

// marshalRows converts a result set into JSON-ready row objects, running
// every cell through the value codec. Duplicate column names collapse
// last-write-wins, as JSON object keys are unique.
func marshalRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: reading column names: %v", ErrQuery, err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("%w: reading column types: %v", ErrQuery, err)
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("%w: scanning row %d: %v", ErrQuery, len(results)+1, err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = columnValueToJSON(columnTypes[i].DatabaseTypeName(), values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating rows: %v", ErrQuery, err)
	}

	return results, nil
}

// TableSchema reads the column definitions of one table, backing the
// mssql://{schema}/{table}/columns resource.
func (g *mssqlGateway) TableSchema(ctx context.Context, schema, table string) ([]map[string]any, error) {
	db, err := g.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ctx, cancel := g.callContext(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT, CHARACTER_MAXIMUM_LENGTH
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("%w: reading schema for %s.%s: %v", ErrQuery, schema, table, err)
	}
	defer rows.Close()

	columns := []map[string]any{}
	for rows.Next() {
		var colName, dataType, isNullable string
		var colDefault sql.NullString
		var maxLength sql.NullInt64

		if err := rows.Scan(&colName, &dataType, &isNullable, &colDefault, &maxLength); err != nil {
			return nil, fmt.Errorf("%w: scanning column info: %v", ErrQuery, err)
		}

		col := map[string]any{
			"column_name": colName,
			"data_type":   dataType,
			"is_nullable": isNullable,
		}
		if colDefault.Valid {
			col["column_default"] = colDefault.String
		}
		if maxLength.Valid {
			col["character_maximum_length"] = maxLength.Int64
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating schema rows: %v", ErrQuery, err)
	}

	return columns, nil
}
