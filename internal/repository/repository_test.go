package repository

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
)

// TestPostgresRepos_ImplementInterfaces は各PostgreSQLリポジトリがインターフェースを実装することを検証する。
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	// コンパイル時チェック
	var _ UserRepository = (*PostgresUserRepo)(nil)
	var _ PreferencesRepository = (*PostgresPreferencesRepo)(nil)
	var _ SourceRepository = (*PostgresSourceRepo)(nil)
	var _ SyncRunRepository = (*PostgresSyncRunRepo)(nil)
	var _ ContentRepository = (*PostgresContentRepo)(nil)
	var _ ClassificationRepository = (*PostgresClassificationRepo)(nil)
	var _ BriefingRepository = (*PostgresBriefingRepo)(nil)
}

func TestBuildListCandidatesQuery(t *testing.T) {
	since := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	query, args, err := buildListCandidatesQuery("user-1", since, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"LEFT JOIN content_classifications cc ON cc.content_id = ci.id",
		"ds.is_active = $",
		"ds.user_id = $",
		"COALESCE(ci.published_at, ci.created_at) >= $3",
		"ORDER BY cc.relevance_score DESC NULLS LAST, cc.importance_score DESC NULLS LAST",
		"LIMIT 50",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query does not contain %q:\n%s", want, query)
		}
	}
	if len(args) != 3 {
		t.Fatalf("len(args) = %d, want 3", len(args))
	}
	if args[2] != since {
		t.Errorf("args[2] = %v, want %v", args[2], since)
	}
}

func TestBuildListUnclassifiedQuery(t *testing.T) {
	since := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	query, args, err := buildListUnclassifiedQuery(since, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"cc.id IS NULL",
		"ds.user_id",
		"COALESCE(ci.published_at, ci.created_at) >= $1",
		"LIMIT 100",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query does not contain %q:\n%s", want, query)
		}
	}
	if len(args) != 1 {
		t.Errorf("len(args) = %d, want 1", len(args))
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Error("23505 should be a unique violation")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("23503 should not be a unique violation")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Error("plain error should not be a unique violation")
	}
	if isUniqueViolation(nil) {
		t.Error("nil should not be a unique violation")
	}
}

func TestJSONMapRoundTrip_NilIsEmptyObject(t *testing.T) {
	b, err := marshalJSONMap(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "{}" {
		t.Errorf("marshalJSONMap(nil) = %s, want {}", b)
	}

	m, err := unmarshalJSONMap(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil || len(m) != 0 {
		t.Errorf("unmarshalJSONMap(nil) = %v, want empty map", m)
	}
}

func TestDateParam(t *testing.T) {
	d := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if got := dateParam(d); got != "2026-03-02" {
		t.Errorf("dateParam = %q, want 2026-03-02", got)
	}
}
