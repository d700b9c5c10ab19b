package warehouse

import (
	"database/sql"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

// ScanRows reads at most maxRows rows from a database/sql result. typeName
// maps the driver's column type name onto a portable one; nil keeps it as is.
func ScanRows(rows *sql.Rows, maxRows int, typeName func(string) string) (*models.ResultSet, error) {
	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]models.ColumnInfo, len(columnNames))
	for i, name := range columnNames {
		t := columnTypes[i].DatabaseTypeName()
		if typeName != nil {
			t = typeName(t)
		}
		columns[i] = models.ColumnInfo{Name: name, Type: t}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		if maxRows > 0 && len(resultRows) >= maxRows {
			break
		}

		values := make([]any, len(columnNames))
		ptrs := make([]any, len(columnNames))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columnNames))
		for i, name := range columnNames {
			row[name] = NormalizeValue(values[i], columns[i].Type)
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &models.ResultSet{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

type float64er interface {
	Float64() float64
}

// NormalizeValue converts driver-specific scan results into plain Go values:
// text as string, integers as int64, everything fractional as float64.
// Decimal columns that arrive as bytes are parsed as numbers.
func NormalizeValue(v any, columnType string) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		if isDecimalType(columnType) {
			if f, err := strconv.ParseFloat(string(x), 64); err == nil {
				return f
			}
		}
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint32:
		return int64(x)
	case uint16:
		return int64(x)
	case uint8:
		return int64(x)
	case float32:
		return float64(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case float64er:
		return x.Float64()
	default:
		return v
	}
}

func isDecimalType(t string) bool {
	t = strings.ToUpper(t)
	return strings.Contains(t, "DECIMAL") || strings.Contains(t, "NUMERIC") || strings.Contains(t, "MONEY")
}
