package types

// PageInfo contains pagination metadata for list responses.
type PageInfo struct {
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ListResponse is a generic paginated response wrapper.
type ListResponse[T any] struct {
	Data     []T      `json:"data"`
	PageInfo PageInfo `json:"pagination"`
}

// Default and maximum page sizes for list endpoints.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// OrderListParams selects a page of orders. Cursor is the created_at/id
// keyset token returned as NextCursor by the previous page.
type OrderListParams struct {
	Limit  int
	Cursor string
}

// Normalize clamps Limit into [1, MaxPageSize].
func (p OrderListParams) Normalize() OrderListParams {
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultPageSize
	case p.Limit > MaxPageSize:
		p.Limit = MaxPageSize
	}
	return p
}
