package dialect

import "fmt"

// JSONExtract returns the SQL fragment to extract a JSON value as text.
//
//	SQLite:   json_extract(col, '$.path')
//	Postgres: col::jsonb->>'path'
func JSONExtract(driver, col, path string) string {
	if IsPostgres(driver) {
		return fmt.Sprintf("%s::jsonb->>'%s'", col, path)
	}
	return fmt.Sprintf("json_extract(%s, '$.%s')", col, path)
}

// JSONSumInt returns an aggregate summing an integer JSON field, 0 when no
// row carries it.
func JSONSumInt(driver, col, path string) string {
	return fmt.Sprintf("COALESCE(SUM(CAST(%s AS BIGINT)), 0)", JSONExtract(driver, col, path))
}
