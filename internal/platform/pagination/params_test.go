package pagination

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || params.Cursor.Offset != 0 {
		t.Fatalf("expected empty cursor, got %#v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	values := url.Values{}
	values.Set("pageSize", "abc")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize got %v", err)
	}

	values.Set("pageSize", "0")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize for zero got %v", err)
	}
}

func TestParsePageToken(t *testing.T) {
	token := EncodeToken(Cursor{Offset: 40})
	if token == "" {
		t.Fatalf("expected token for positive offset")
	}

	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageToken != token || params.Cursor.Offset != 40 {
		t.Fatalf("unexpected params %#v", params)
	}
}

func TestParseInvalidPageToken(t *testing.T) {
	values := url.Values{}
	values.Set("pageToken", "!!!invalid!!!")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}
}

func TestNextToken(t *testing.T) {
	if got := NextToken(0, 20, 20); got != "" {
		t.Fatalf("expected no next token for a short page, got %q", got)
	}
	cursor, err := DecodeToken(NextToken(20, 20, 21))
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if cursor.Offset != 40 {
		t.Fatalf("expected offset 40, got %d", cursor.Offset)
	}
	if EncodeToken(Cursor{}) != "" {
		t.Fatalf("expected empty token for zero cursor")
	}
}

func TestFromRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/orders?pageSize=5", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if params.PageSize != 5 {
		t.Fatalf("expected page size 5 got %d", params.PageSize)
	}
	if _, err := FromRequest(nil, Options{}); err == nil {
		t.Fatalf("expected error for nil request")
	}
}

func TestClamp(t *testing.T) {
	if Clamp(0) != DefaultPageSize || Clamp(1000) != DefaultMaxPageSize || Clamp(7) != 7 {
		t.Fatalf("unexpected clamp results")
	}
}
