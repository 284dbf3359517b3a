package briefing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/dailydigest/internal/llm"
	"github.com/hitoshi/dailydigest/internal/model"
	"github.com/hitoshi/dailydigest/internal/repository"
	"github.com/hitoshi/dailydigest/internal/tts"
)

// --- テスト用モック ---

type mockUserRepo struct {
	users map[string]*model.User
}

func (r *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return r.users[id], nil
}

func (r *mockUserRepo) ListActive(context.Context) ([]*model.User, error) {
	var out []*model.User
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

type mockPrefsRepo struct {
	prefs map[string]*model.Preferences
}

func (r *mockPrefsRepo) FindByUserID(_ context.Context, userID string) (*model.Preferences, error) {
	return r.prefs[userID], nil
}

type mockContentRepo struct {
	candidates []model.ClassifiedContent
	err        error
	gotSince   time.Time
	gotLimit   int
}

func (r *mockContentRepo) FindBySourceAndExternalID(context.Context, string, string) (*model.ContentItem, error) {
	return nil, nil
}

func (r *mockContentRepo) Insert(context.Context, *model.ContentItem) (bool, error) {
	return true, nil
}

func (r *mockContentRepo) Update(context.Context, *model.ContentItem) error {
	return nil
}

func (r *mockContentRepo) ListUnclassified(context.Context, time.Time, int) ([]model.PendingContent, error) {
	return nil, nil
}

func (r *mockContentRepo) ListCandidates(_ context.Context, _ string, since time.Time, limit int) ([]model.ClassifiedContent, error) {
	r.gotSince = since
	r.gotLimit = limit
	return r.candidates, r.err
}

// memBriefingRepo はBeginGenerationの遷移条件をメモリ上で再現する。
type memBriefingRepo struct {
	mu          sync.Mutex
	byID        map[string]*model.Briefing
	links       map[string][]model.BriefingContentLink
	nextID      int
	completeErr error
}

func newMemBriefingRepo() *memBriefingRepo {
	return &memBriefingRepo{
		byID:  make(map[string]*model.Briefing),
		links: make(map[string][]model.BriefingContentLink),
	}
}

func (r *memBriefingRepo) find(userID string, date time.Time) *model.Briefing {
	for _, b := range r.byID {
		if b.UserID == userID && b.Date.Equal(date) {
			return b
		}
	}
	return nil
}

func (r *memBriefingRepo) put(b *model.Briefing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	r.byID[b.ID] = &cp
}

func (r *memBriefingRepo) get(id string) *model.Briefing {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byID[id]; ok {
		cp := *b
		return &cp
	}
	return nil
}

func (r *memBriefingRepo) FindByID(_ context.Context, id string) (*model.Briefing, error) {
	return r.get(id), nil
}

func (r *memBriefingRepo) FindByUserAndDate(_ context.Context, userID string, date time.Time) (*model.Briefing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b := r.find(userID, date); b != nil {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (r *memBriefingRepo) BeginGeneration(_ context.Context, userID string, date time.Time, opts repository.BeginOptions) (*model.Briefing, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.find(userID, date)
	if b == nil {
		r.nextID++
		b = &model.Briefing{
			ID:        "b-" + string(rune('0'+r.nextID)),
			UserID:    userID,
			Date:      date,
			Status:    model.BriefingStatusGenerating,
			CreatedAt: opts.Now,
			UpdatedAt: opts.Now,
		}
		r.byID[b.ID] = b
		cp := *b
		return &cp, true, nil
	}

	restart := false
	switch b.Status {
	case model.BriefingStatusPending, model.BriefingStatusFailed:
		restart = true
	case model.BriefingStatusGenerating:
		restart = b.UpdatedAt.Before(opts.Now.Add(-opts.StaleAfter))
	case model.BriefingStatusReady:
		restart = opts.Force
	}
	if restart {
		b.Status = model.BriefingStatusGenerating
		b.ErrorMessage = ""
		b.UpdatedAt = opts.Now
	}
	cp := *b
	return &cp, restart, nil
}

func (r *memBriefingRepo) MarkFailed(_ context.Context, id, message string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.byID[id]
	if b.Status != model.BriefingStatusDelivered {
		b.Status = model.BriefingStatusFailed
		b.ErrorMessage = message
		b.UpdatedAt = at
	}
	return nil
}

func (r *memBriefingRepo) CompleteReady(_ context.Context, b *model.Briefing, links []model.BriefingContentLink) error {
	if r.completeErr != nil {
		return r.completeErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID[b.ID].Status != model.BriefingStatusGenerating {
		return errors.New("not generating")
	}
	cp := *b
	r.byID[b.ID] = &cp
	r.links[b.ID] = links
	return nil
}

func (r *memBriefingRepo) MarkDelivered(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.byID[id]
	if b == nil || b.Status != model.BriefingStatusReady {
		return false, nil
	}
	b.Status = model.BriefingStatusDelivered
	b.DeliveredAt = &at
	return true, nil
}

func (r *memBriefingRepo) ListLinks(_ context.Context, briefingID string) ([]model.BriefingContentLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.links[briefingID], nil
}

type stubSummarizer struct {
	text  string
	err   error
	got   llm.SummaryOptions
	items int
}

func (s *stubSummarizer) Summarize(_ context.Context, items []model.ContentItem, opts llm.SummaryOptions) (string, error) {
	s.got = opts
	s.items = len(items)
	return s.text, s.err
}

type stubRenderer struct {
	err      error
	gotText  string
	gotVoice string
}

func (s *stubRenderer) Name() string { return "stub" }

func (s *stubRenderer) Render(_ context.Context, text string, opts tts.Options) ([]byte, error) {
	s.gotText = text
	s.gotVoice = opts.Voice
	if s.err != nil {
		return nil, s.err
	}
	return []byte("mp3"), nil
}

type memStore struct {
	blobs map[string][]byte
	err   error
}

func (s *memStore) Put(_ context.Context, name string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.blobs == nil {
		s.blobs = make(map[string][]byte)
	}
	s.blobs[name] = data
	return "/storage/" + name, nil
}

type recordingEnqueuer struct {
	plans []Plan
	err   error
}

func (e *recordingEnqueuer) EnqueueBriefing(userID string, date time.Time) error {
	if e.err != nil {
		return e.err
	}
	e.plans = append(e.plans, Plan{UserID: userID, Date: date})
	return nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func candidate(id string, relevance, importance float64) model.ClassifiedContent {
	return model.ClassifiedContent{
		Item: model.ContentItem{ID: id, Text: "text " + id},
		Classification: &model.Classification{
			ContentID:       id,
			RelevanceScore:  relevance,
			ImportanceScore: importance,
		},
	}
}

func ptr[T any](v T) *T { return &v }
