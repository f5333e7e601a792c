package pagination

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
	// MaxPage keeps Offset inside a 32-bit OFFSET for any page size.
	MaxPage = math.MaxInt32 / MaxPageSize
)

// Params is a 1-based page request.
type Params struct {
	Page     int
	PageSize int
}

// FromContext reads page and page_size from the query string. Missing or
// non-positive values fall back to the defaults; page_size is capped.
func FromContext(c echo.Context) Params {
	return New(atoi(c.QueryParam("page")), atoi(c.QueryParam("page_size")))
}

// New normalises a page request the same way FromContext does.
func New(page, pageSize int) Params {
	if page <= 0 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Params{Page: page, PageSize: pageSize}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func (p Params) Limit() int { return p.PageSize }

func (p Params) Offset() int { return (p.Page - 1) * p.PageSize }

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset()+p.PageSize < total
}

// TotalPages is the number of pages needed for total rows, at least 1.
func (p Params) TotalPages(total int) int {
	if total <= 0 {
		return 1
	}
	return (total + p.PageSize - 1) / p.PageSize
}

// Response wraps a paginated API response.
type Response struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
	HasMore    bool        `json:"has_more"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:       data,
		Total:      total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages(total),
		HasMore:    p.HasNext(total),
	}
}
