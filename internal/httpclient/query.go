package httpclient

import (
	"fmt"
	"strings"
)

// MaxPaginateLimit is the hard cap on a page's limit, per spec.md §4.4.
const MaxPaginateLimit = 100

// Pagination is a (limit, offset) page request. The zero value is not valid;
// use DefaultPagination.
type Pagination struct {
	Limit  int
	Offset int
}

// DefaultPagination matches original_source's Pagination::default().
func DefaultPagination() Pagination {
	return Pagination{Limit: 10, Offset: 0}
}

// BuildExpandQuery renders an expand[] query fragment, joining items with
// "&" (original_source's http/expand.rs omits the separator between items;
// spec.md's S1 worked example is authoritative here). An empty list yields
// no fragment at all.
func BuildExpandQuery(expansions []string) string {
	if len(expansions) == 0 {
		return ""
	}
	parts := make([]string, len(expansions))
	for i, e := range expansions {
		parts[i] = "expand[]=" + e
	}
	return strings.Join(parts, "&")
}

// BuildQueryParams composes the full query string for a list endpoint:
// "?limit=L&offset=O" followed by an optional search fragment and an
// optional expand fragment, each joined with "&" when present. p.Limit is
// clamped to MaxPaginateLimit regardless of what the caller asked for.
func BuildQueryParams(search, expandQuery string, p Pagination) string {
	limit := p.Limit
	if limit > MaxPaginateLimit {
		limit = MaxPaginateLimit
	}
	q := fmt.Sprintf("?limit=%d&offset=%d", limit, p.Offset)
	if search != "" {
		q += "&" + search
	}
	if expandQuery != "" {
		q += "&" + expandQuery
	}
	return q
}
