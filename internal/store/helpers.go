package store

import (
	"fmt"
	"strings"
)

// buildInClause renders query (containing one %s placeholder) with a
// `?,?,?`-style placeholder list sized to ids, returning the finished query
// and the matching argument slice.
func buildInClause(query string, ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return fmt.Sprintf(query, strings.Join(placeholders, ",")), args
}
