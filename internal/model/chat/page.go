package chat

const maxPageLimit = 100

// Page selects a window of an ordered listing.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page into a usable window, falling back to def for
// a missing limit.
func (p Page) Normalize(def int) Page {
	if p.Limit <= 0 {
		p.Limit = def
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Pagination describes a page relative to the full result set.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// NewPagination builds the pagination block for page p over total rows.
func NewPagination(p Page, total int) Pagination {
	return Pagination{
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+p.Limit < total,
	}
}
