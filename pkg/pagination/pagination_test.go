package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestFromContext_Defaults(t *testing.T) {
	c, _ := newContext("/")
	p := FromContext(c)
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Page != 1 || p.Offset != 0 {
		t.Errorf("expected page 1 offset 0, got page %d offset %d", p.Page, p.Offset)
	}
	if len(p.Sort) != 0 {
		t.Errorf("expected no sort fields, got %v", p.Sort)
	}
}

func TestFromContext_PageToOffset(t *testing.T) {
	c, _ := newContext("/?page=3&limit=10")
	p := FromContext(c)
	if p.Offset != 20 {
		t.Errorf("expected offset 20, got %d", p.Offset)
	}
}

func TestFromContext_ExplicitOffset(t *testing.T) {
	c, _ := newContext("/?page=3&limit=10&offset=5")
	p := FromContext(c)
	if p.Offset != 5 {
		t.Errorf("expected offset 5, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	c, _ := newContext("/?limit=50000")
	p := FromContext(c)
	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_InvalidValues(t *testing.T) {
	c, _ := newContext("/?limit=abc&page=-2")
	p := FromContext(c)
	if p.Limit != DefaultLimit || p.Page != 1 {
		t.Errorf("expected defaults, got limit %d page %d", p.Limit, p.Page)
	}
}

func TestParseSort(t *testing.T) {
	fields := ParseSort("-timestamp, +type,,unit,-")
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %v", fields)
	}
	if fields[0] != (SortField{Field: "timestamp", Desc: true}) {
		t.Errorf("unexpected first field %v", fields[0])
	}
	if fields[1] != (SortField{Field: "type"}) || fields[2] != (SortField{Field: "unit"}) {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestOrderBy_FiltersUnknownColumns(t *testing.T) {
	p := Params{Sort: ParseSort("-timestamp,password,type")}
	got := p.OrderBy(map[string]string{"timestamp": "timestamp", "type": "type"}, "created_at DESC")
	if got != "timestamp DESC, type ASC" {
		t.Errorf("unexpected order by %q", got)
	}
}

func TestOrderBy_Fallback(t *testing.T) {
	p := Params{Sort: ParseSort("password")}
	if got := p.OrderBy(map[string]string{"timestamp": "timestamp"}, "timestamp DESC"); got != "timestamp DESC" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestHasNext(t *testing.T) {
	p := Params{Limit: 10, Offset: 0}
	if !p.HasNext(25) {
		t.Error("expected HasNext true")
	}
	p.Offset = 20
	if p.HasNext(25) {
		t.Error("expected HasNext false on last page")
	}
}

func TestSetTotalCount(t *testing.T) {
	c, rec := newContext("/")
	SetTotalCount(c, 42)
	if rec.Header().Get(TotalCountHeader) != "42" {
		t.Errorf("expected header 42, got %q", rec.Header().Get(TotalCountHeader))
	}
}

func TestSetNextLink_Page(t *testing.T) {
	c, rec := newContext("/v1/patients/x/measurements?limit=10&page=2&type=weight")
	SetNextLink(c, FromContext(c), 25)
	want := `</v1/patients/x/measurements?limit=10&page=3&type=weight>; rel="next"`
	if got := rec.Header().Get(LinkHeader); got != want {
		t.Errorf("Link = %q, want %q", got, want)
	}
}

func TestSetNextLink_Offset(t *testing.T) {
	c, rec := newContext("/?limit=5&offset=3")
	SetNextLink(c, FromContext(c), 25)
	if got, want := rec.Header().Get(LinkHeader), `</?limit=5&offset=8>; rel="next"`; got != want {
		t.Errorf("Link = %q, want %q", got, want)
	}
}

func TestSetNextLink_LastPage(t *testing.T) {
	c, rec := newContext("/?limit=10&page=3")
	SetNextLink(c, FromContext(c), 25)
	if got := rec.Header().Get(LinkHeader); got != "" {
		t.Errorf("expected no Link header on last page, got %q", got)
	}
}
