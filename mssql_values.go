package main

import (
	"encoding/hex"
	"math"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
)

// columnValueToJSON converts one scanned cell into a value that marshals
// cleanly with encoding/json. dbTypeName is the driver-reported SQL Server
// type name (sql.ColumnType.DatabaseTypeName), which disambiguates the
// []byte-backed types: decimals arrive as decimal text, binary columns as raw
// bytes and uniqueidentifiers as 16 driver-ordered bytes.
//
// The conversion is total: a nil cell is JSON null for every type, a
// non-finite float is JSON null (JSON has no NaN/Inf), and a cell whose Go
// type does not match its reported SQL type falls back to a generic
// conversion instead of failing the row.
func columnValueToJSON(dbTypeName string, v any) any {
	if v == nil {
		return nil
	}

	switch dbTypeName {
	case "TINYINT", "SMALLINT", "INT", "BIGINT":
		if n, ok := v.(int64); ok {
			return n
		}

	case "BIT":
		if b, ok := v.(bool); ok {
			return b
		}

	case "REAL", "FLOAT":
		if f, ok := v.(float64); ok {
			return finiteOrNull(f)
		}

	// Exact decimals are handed over by the driver as decimal text. Kept as
	// a JSON string: converting to float64 would silently lose precision.
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		if b, ok := v.([]byte); ok {
			return string(b)
		}

	case "UNIQUEIDENTIFIER":
		var id mssql.UniqueIdentifier
		if err := id.Scan(v); err != nil {
			return nil
		}
		return id.String()

	case "BINARY", "VARBINARY", "IMAGE", "TIMESTAMP", "ROWVERSION":
		if b, ok := v.([]byte); ok {
			return hex.EncodeToString(b)
		}

	// Temporal columns come back as time.Time; the display form below is
	// deliberately the driver-level representation, not ISO 8601. Callers
	// needing a specific textual format should cast in SQL, e.g.
	// CONVERT(varchar, col, 127).
	case "DATE", "TIME", "DATETIME", "SMALLDATETIME", "DATETIME2", "DATETIMEOFFSET":
		if t, ok := v.(time.Time); ok {
			return t.String()
		}

	case "CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "TEXT", "NTEXT", "XML":
		if s, ok := v.(string); ok {
			return s
		}
	}

	return genericValueToJSON(v)
}

// genericValueToJSON handles sql_variant columns and any cell whose Go type
// did not match its reported SQL type. Unknown types become JSON null rather
// than aborting the row.
func genericValueToJSON(v any) any {
	switch x := v.(type) {
	case bool, int64, string:
		return x
	case float64:
		return finiteOrNull(x)
	case []byte:
		return string(x)
	case time.Time:
		return x.String()
	default:
		return nil
	}
}

func finiteOrNull(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
