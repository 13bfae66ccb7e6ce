// Package repository provides the data access layer for the portfolio
// aggregator.
package repository

// Pagination holds pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// DefaultLimit is the default number of items per page.
const DefaultLimit = 50

// MaxLimit is the maximum allowed items per page.
const MaxLimit = 500

// NewPagination creates pagination with validated limits.
func NewPagination(limit, offset int) Pagination {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Pagination{Limit: limit, Offset: offset}
}
