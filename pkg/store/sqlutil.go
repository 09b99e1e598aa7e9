package store

import "github.com/jmoiron/sqlx"

// sqlxIn expands a `?` slice placeholder via sqlx.In. Kept as a thin wrapper
// so callers stay readable when the query has exactly one IN(...) clause.
func sqlxIn(query string, args ...interface{}) (string, []interface{}, error) {
	return sqlx.In(query, args...)
}
