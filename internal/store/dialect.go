// ABOUTME: SQL dialect differences between SQLite and Postgres
// ABOUTME: Covers id/boolean column types and placeholder syntax

package store

import (
	"strconv"
	"strings"
)

type dialect struct {
	name       string
	idColumn   string
	boolColumn string
	numbered   bool // $1, $2 placeholders instead of ?
}

var sqliteDialect = dialect{
	name:       "sqlite",
	idColumn:   "INTEGER PRIMARY KEY AUTOINCREMENT",
	boolColumn: "INTEGER NOT NULL DEFAULT 0",
}

var postgresDialect = dialect{
	name:       "postgres",
	idColumn:   "BIGSERIAL PRIMARY KEY",
	boolColumn: "BOOLEAN NOT NULL DEFAULT FALSE",
	numbered:   true,
}

// rebind replaces ? placeholders with $n when the dialect needs it.
// Queries in this package never contain a literal question mark.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
