package mssql

import "strings"

// portableTypes folds SQL Server column types onto the names result sets carry.
// Money and decimal types keep a NUMERIC/MONEY name so byte-encoded values are
// parsed as numbers by warehouse.NormalizeValue.
var portableTypes = map[string]string{
	"TINYINT":          "SMALLINT",
	"SMALLINT":         "SMALLINT",
	"INT":              "INTEGER",
	"BIGINT":           "BIGINT",
	"DECIMAL":          "NUMERIC",
	"NUMERIC":          "NUMERIC",
	"MONEY":            "MONEY",
	"SMALLMONEY":       "MONEY",
	"FLOAT":            "DOUBLE PRECISION",
	"REAL":             "REAL",
	"CHAR":             "VARCHAR",
	"NCHAR":            "VARCHAR",
	"VARCHAR":          "VARCHAR",
	"NVARCHAR":         "VARCHAR",
	"DATE":             "DATE",
	"DATETIME":         "TIMESTAMP",
	"DATETIME2":        "TIMESTAMP",
	"SMALLDATETIME":    "TIMESTAMP",
	"DATETIMEOFFSET":   "TIMESTAMP WITH TIME ZONE",
	"BIT":              "BOOLEAN",
	"UNIQUEIDENTIFIER": "UUID",
}

func mapSQLServerType(name string) string {
	name = strings.ToUpper(name)
	if t, ok := portableTypes[name]; ok {
		return t
	}
	return name
}
