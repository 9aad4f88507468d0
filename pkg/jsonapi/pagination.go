package jsonapi

import (
	"math"
	"net/url"
	"strconv"
)

// Query parameters carrying pagination.
const (
	PageParam = "page"
	SizeParam = "size"
)

// Pagination holds pagination information for generating links and metadata.
type Pagination struct {
	Total   int    // Total number of items
	Page    int    // Current page number (0-based)
	Size    int    // Items per page
	BaseURL string // Base URL for generating links
}

// NewPagination creates a new Pagination instance.
func NewPagination(total, page, size int, baseURL string) *Pagination {
	if page < 0 {
		page = 0
	}
	if size < 1 {
		size = 20
	}
	return &Pagination{
		Total:   total,
		Page:    page,
		Size:    size,
		BaseURL: baseURL,
	}
}

// TotalPages returns the total number of pages, at least one.
func (p *Pagination) TotalPages() int {
	pages := (p.Total + p.Size - 1) / p.Size
	if pages < 1 {
		pages = 1
	}
	return pages
}

// HasPrev returns true if there is a previous page.
func (p *Pagination) HasPrev() bool {
	return p.Page > 0
}

// HasNext returns true if there is a next page.
func (p *Pagination) HasNext() bool {
	return p.Page < p.TotalPages()-1
}

// Links generates pagination links.
func (p *Pagination) Links() *Links {
	links := &Links{
		Self:  p.buildURL(p.Page),
		First: p.buildURL(0),
		Last:  p.buildURL(p.TotalPages() - 1),
	}
	if p.HasPrev() {
		links.Prev = p.buildURL(p.Page - 1)
	}
	if p.HasNext() {
		links.Next = p.buildURL(p.Page + 1)
	}
	return links
}

// buildURL builds a URL with pagination query parameters. Other query
// parameters of the base URL (filters, sort) are kept.
func (p *Pagination) buildURL(page int) string {
	if p.BaseURL == "" {
		return ""
	}

	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return p.BaseURL
	}

	q := u.Query()
	q.Set(PageParam, strconv.Itoa(page))
	q.Set(SizeParam, strconv.Itoa(p.Size))
	u.RawQuery = q.Encode()

	return u.String()
}

// Meta returns pagination metadata.
func (p *Pagination) Meta() Meta {
	return Meta{
		"total": p.Total,
		"page":  p.Page,
		"size":  p.Size,
		"pages": p.TotalPages(),
	}
}

// ParsePaginationParams extracts the 0-based page and the page size from
// a URL query. A missing or invalid size yields 0 (provider default);
// sizes above maxSize are capped, and so are pages whose offset would not
// fit in an int.
func ParsePaginationParams(query url.Values, maxSize int) (page, size int) {
	if v := query.Get(PageParam); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := query.Get(SizeParam); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	// page*maxSize must not overflow
	if maxSize > 0 && page > math.MaxInt/maxSize {
		page = math.MaxInt / maxSize
	}
	return page, size
}
