package models

import "fmt"

// PageMeta is the server's pagination trailer for a list response.
// Invariant: NextCursor is set if and only if HasMore is true. Cursors are
// opaque; nothing in the client may parse them.
type PageMeta struct {
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
	Total      int    `json:"total,omitempty"`
}

// Validate enforces the cursor/has-more invariant.
func (m PageMeta) Validate() error {
	if m.HasMore && m.NextCursor == "" {
		return fmt.Errorf("page meta: has_more without next_cursor")
	}
	if !m.HasMore && m.NextCursor != "" {
		return fmt.Errorf("page meta: next_cursor without has_more")
	}
	return nil
}

// PageQuery is the cursor query accepted by list operations. An empty
// Cursor requests the first page and replaces the cached collection.
type PageQuery struct {
	Cursor    string `json:"cursor,omitempty"`
	Limit     int    `json:"limit"`
	Direction string `json:"direction,omitempty"` // asc | desc
	SortBy    string `json:"sort_by,omitempty"`
}
