// Package pagination parses the page, limit and sort query parameters shared
// by the list endpoints.
package pagination

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000

	// TotalCountHeader carries the number of records matching a list query.
	TotalCountHeader = "X-Total-Count"

	LinkHeader = "Link"
)

// SortField orders results by Field, descending when Desc is set.
type SortField struct {
	Field string
	Desc  bool
}

// Params holds pagination parameters extracted from a request.
type Params struct {
	Page   int
	Limit  int
	Offset int
	Sort   []SortField
}

// FromContext extracts pagination parameters from the echo context. Pages are
// 1-based; an explicit offset wins over the page number.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit
	if raw := c.QueryParam("offset"); raw != "" {
		if o, err := strconv.Atoi(raw); err == nil && o >= 0 {
			offset = o
		}
	}

	return Params{Page: page, Limit: limit, Offset: offset, Sort: ParseSort(c.QueryParam("sort"))}
}

// ParseSort reads a comma separated list such as "-timestamp,type". A leading
// "-" sorts descending, a leading "+" or nothing ascending.
func ParseSort(raw string) []SortField {
	var fields []SortField
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f := SortField{Field: part}
		switch part[0] {
		case '-':
			f = SortField{Field: part[1:], Desc: true}
		case '+':
			f.Field = part[1:]
		}
		if f.Field != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// OrderBy renders the sort fields as an SQL ORDER BY list, keeping only the
// fields present in columns (query name to column name). fallback is used when
// nothing survives.
func (p Params) OrderBy(columns map[string]string, fallback string) string {
	var parts []string
	for _, f := range p.Sort {
		col, ok := columns[f.Field]
		if !ok {
			continue
		}
		if f.Desc {
			parts = append(parts, col+" DESC")
		} else {
			parts = append(parts, col+" ASC")
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, ", ")
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// SetTotalCount writes the X-Total-Count header.
func SetTotalCount(c echo.Context, total int) {
	c.Response().Header().Set(TotalCountHeader, strconv.Itoa(total))
}

// SetNextLink writes a rel="next" Link header pointing at the following page
// when one exists. A request that paged by offset keeps paging by offset.
func SetNextLink(c echo.Context, p Params, total int) {
	if !p.HasNext(total) {
		return
	}
	u := *c.Request().URL
	q := u.Query()
	if q.Has("offset") {
		q.Set("offset", strconv.Itoa(p.Offset+p.Limit))
	} else {
		q.Set("page", strconv.Itoa(p.Page+1))
	}
	u.RawQuery = q.Encode()
	c.Response().Header().Set(LinkHeader, fmt.Sprintf(`<%s>; rel="next"`, u.RequestURI()))
}
