package storage

import (
	"fmt"
	"strings"
)

// dialect adapts queries written with Postgres placeholders.
type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
)

// rebind rewrites $n placeholders to ?n for SQLite.
func (d dialect) rebind(query string) string {
	if d != dialectSQLite {
		return query
	}
	return strings.ReplaceAll(query, "$", "?")
}

// placeholders returns "$from, $from+1, ..." for n arguments.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
