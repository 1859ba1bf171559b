package store

import "math"

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

type Page struct {
	Page  int
	Limit int
}

// NewPage fills in defaults for a requested page. Limits above
// MaxPageLimit are clamped.
func NewPage(page, limit int) Page {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return Page{Page: page, Limit: limit}
}

// Unbounded reports whether the page selects every row.
func (p Page) Unbounded() bool {
	return p.Limit <= 0
}

// Offset saturates at math.MaxInt instead of overflowing.
func (p Page) Offset() int {
	if p.Unbounded() || p.Page <= 1 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.Limit {
		return math.MaxInt
	}
	return (p.Page - 1) * p.Limit
}

// Window returns the [start, end) bounds of the page inside n items.
func (p Page) Window(n int) (int, int) {
	if p.Unbounded() {
		return 0, n
	}
	start := max(p.Offset(), 0)
	if start >= n {
		return n, n
	}
	end := n
	if p.Limit < n-start {
		end = start + p.Limit
	}
	return start, end
}

// Pages is ceil(total/limit).
func Pages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

type Result[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

func NewResult[T any](items []T, total int64, p Page) Result[T] {
	if items == nil {
		items = []T{}
	}
	return Result[T]{
		Items: items,
		Total: total,
		Page:  p.Page,
		Limit: p.Limit,
		Pages: Pages(total, p.Limit),
	}
}
