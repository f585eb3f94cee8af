package testsupport

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/goliatone/go-live-query/query"
)

// PaginatedSource serves a slice of items as cursor-chained pages. Cursors
// are item offsets encoded as decimal strings; the empty cursor starts at the
// beginning. Register Handler as the query handler for a paginated function.
type PaginatedSource struct {
	mu    sync.Mutex
	items []any
}

// NewPaginatedSource creates a source over items.
func NewPaginatedSource(items ...any) *PaginatedSource {
	return &PaginatedSource{items: items}
}

// SetItems replaces the backing items, for refresh and live-update tests.
func (s *PaginatedSource) SetItems(items ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

// Page computes the page starting at cursor with up to numItems items.
func (s *PaginatedSource) Page(cursor string, numItems int) (query.PageResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return query.PageResponse{}, fmt.Errorf("testsupport: bad cursor %q: %w", cursor, err)
		}
		start = n
	}
	if start > len(s.items) {
		start = len(s.items)
	}
	end := start + numItems
	if end > len(s.items) {
		end = len(s.items)
	}

	items := make([]any, end-start)
	copy(items, s.items[start:end])
	return query.PageResponse{
		Items:          items,
		ContinueCursor: strconv.Itoa(end),
		IsDone:         end >= len(s.items),
	}, nil
}

// Handler adapts the source to a backend query handler expecting
// query.PageArgs.
func (s *PaginatedSource) Handler() HandlerFunc {
	return func(_ context.Context, args any) (any, error) {
		var pa query.PageArgs
		switch a := args.(type) {
		case query.PageArgs:
			pa = a
		case *query.PageArgs:
			pa = *a
		default:
			return nil, fmt.Errorf("testsupport: expected query.PageArgs, got %T", args)
		}
		return s.Page(pa.Pagination.Cursor, pa.Pagination.NumItems)
	}
}
