package source

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/hitoshi/dailydigest/internal/model"
)

// --- テスト用モック ---

// pagedAdapter はページごとの結果を返すAdapterのモック。
type pagedAdapter struct {
	pages    map[string]Page
	errAt    string
	requests []Request
}

func (a *pagedAdapter) Type() model.SourceType { return "fake" }
func (a *pagedAdapter) CredentialKey() string  { return "" }
func (a *pagedAdapter) FetchPage(ctx context.Context, req Request) (Page, error) {
	a.requests = append(a.requests, req)
	if req.Cursor == a.errAt && a.errAt != "" {
		return Page{}, errors.New("provider down")
	}
	return a.pages[req.Cursor], nil
}

func makeItems(prefix string, n int) []model.NormalizedItem {
	items := make([]model.NormalizedItem, n)
	for i := range items {
		items[i] = model.NormalizedItem{ExternalID: prefix + strconv.Itoa(i)}
	}
	return items
}

func TestFetchAll_FollowsCursorsUntilLastPage(t *testing.T) {
	a := &pagedAdapter{pages: map[string]Page{
		"":   {Items: makeItems("a", 3), NextCursor: "p2"},
		"p2": {Items: makeItems("b", 3), NextCursor: "p3"},
		"p3": {Items: makeItems("c", 2)},
	}}

	items, err := FetchAll(context.Background(), a, Request{Limit: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 8 {
		t.Errorf("len(items) = %d, want 8", len(items))
	}
	if len(a.requests) != 3 {
		t.Errorf("requests = %d, want 3", len(a.requests))
	}
	if a.requests[1].Limit != 97 {
		t.Errorf("second page Limit = %d, want 97", a.requests[1].Limit)
	}
}

func TestFetchAll_StopsAtLimit(t *testing.T) {
	a := &pagedAdapter{pages: map[string]Page{
		"":   {Items: makeItems("a", 3), NextCursor: "p2"},
		"p2": {Items: makeItems("b", 3), NextCursor: "p3"},
		"p3": {Items: makeItems("c", 3)},
	}}

	items, err := FetchAll(context.Background(), a, Request{Limit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("len(items) = %d, want 5", len(items))
	}
	if len(a.requests) != 2 {
		t.Errorf("requests = %d, want 2", len(a.requests))
	}
}

func TestFetchAll_ReturnsPartialItemsOnError(t *testing.T) {
	a := &pagedAdapter{
		pages: map[string]Page{
			"": {Items: makeItems("a", 4), NextCursor: "p2"},
		},
		errAt: "p2",
	}

	items, err := FetchAll(context.Background(), a, Request{Limit: 100})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(items) != 4 {
		t.Errorf("len(items) = %d, want 4 (partial)", len(items))
	}
}

func TestFetchAll_StopsOnRepeatedCursor(t *testing.T) {
	a := &pagedAdapter{pages: map[string]Page{
		"":     {Items: makeItems("a", 1), NextCursor: "same"},
		"same": {Items: makeItems("b", 1), NextCursor: "same"},
	}}

	items, err := FetchAll(context.Background(), a, Request{Limit: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}
}

func TestFetchAll_DefaultLimit(t *testing.T) {
	a := &pagedAdapter{pages: map[string]Page{"": {Items: makeItems("a", 150)}}}

	items, _ := FetchAll(context.Background(), a, Request{})
	if len(items) != DefaultLimit {
		t.Errorf("len(items) = %d, want %d", len(items), DefaultLimit)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry(NewTwitterAdapter(ClientOptions{}), NewTelegramAdapter(ClientOptions{}))

	a, err := reg.Lookup(model.SourceTypeTwitter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Type() != model.SourceTypeTwitter {
		t.Errorf("Type() = %q, want twitter", a.Type())
	}

	_, err = reg.Lookup("myspace")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUnsupportedSource {
		t.Errorf("Lookup(myspace) error = %v, want UNSUPPORTED_SOURCE", err)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want StatusClass
	}{
		{200, StatusOK},
		{204, StatusOK},
		{400, StatusPermanent},
		{401, StatusPermanent},
		{403, StatusPermanent},
		{404, StatusPermanent},
		{408, StatusTransient},
		{429, StatusTransient},
		{500, StatusTransient},
		{503, StatusTransient},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.code); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestProviderError_Transient(t *testing.T) {
	if !model.IsTransient(&ProviderError{Provider: "twitter", StatusCode: 429}) {
		t.Error("429 should be transient")
	}
	if model.IsTransient(&ProviderError{Provider: "twitter", StatusCode: 401}) {
		t.Error("401 should be permanent")
	}
	if !model.IsTransient(&ProviderError{Provider: "twitter", Err: errors.New("connection reset")}) {
		t.Error("network error should be transient")
	}
	if model.IsTransient(&ProviderError{Provider: "rss", Message: "parse error"}) {
		t.Error("parse error should be permanent")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("привет мир", 6); got != "привет" {
		t.Errorf("truncateRunes = %q, want привет", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("truncateRunes = %q, want short", got)
	}
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{
		"2026-03-01T10:00:00.000Z",
		"2026-03-01T10:00:00Z",
		"2026-03-01T10:00:00+0000",
		"2026-03-01T19:00:00+0900",
	} {
		got := parseTime(s)
		if got == nil {
			t.Errorf("parseTime(%q) = nil", s)
			continue
		}
		if got.Hour() != 10 || got.Location().String() != "UTC" {
			t.Errorf("parseTime(%q) = %v, want 10:00 UTC", s, got)
		}
	}
	if parseTime("garbage") != nil {
		t.Error("parseTime(garbage) should be nil")
	}
}
