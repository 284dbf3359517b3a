package source

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/dailydigest/internal/model"
)

const (
	twitterBaseURL     = "https://api.twitter.com"
	twitterPageMax     = 100
	twitterPageMin     = 5
	twitterTweetFields = "created_at,author_id,public_metrics,text,lang"
	twitterStatusURL   = "https://twitter.com/i/web/status/"
)

// TwitterAdapter はTwitter API v2のユーザータイムラインを取得するアダプタ。
type TwitterAdapter struct {
	client *providerClient

	// identities はアクセストークンごとに解決済みのユーザーIDとユーザー名を保持する。
	mu         sync.Mutex
	identities map[string]twitterIdentity
}

type twitterIdentity struct {
	userID   string
	username string
}

// NewTwitterAdapter はTwitterAdapterを生成する。
func NewTwitterAdapter(opts ClientOptions) *TwitterAdapter {
	return &TwitterAdapter{
		client:     newProviderClient("twitter", twitterBaseURL, opts),
		identities: make(map[string]twitterIdentity),
	}
}

func (a *TwitterAdapter) Type() model.SourceType { return model.SourceTypeTwitter }

func (a *TwitterAdapter) CredentialKey() string { return "access_token" }

type twitterMetrics struct {
	RetweetCount int `json:"retweet_count"`
	ReplyCount   int `json:"reply_count"`
	LikeCount    int `json:"like_count"`
	QuoteCount   int `json:"quote_count"`
}

type twitterTweet struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	CreatedAt     string         `json:"created_at"`
	AuthorID      string         `json:"author_id"`
	Lang          string         `json:"lang"`
	PublicMetrics twitterMetrics `json:"public_metrics"`
}

type twitterTimeline struct {
	Data []json.RawMessage `json:"data"`
	Meta struct {
		NextToken   string `json:"next_token"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

type twitterMe struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

// FetchPage はユーザーのツイートを1ページ取得する。
// 認証情報にtwitter_user_idが無い場合は /2/users/me で解決し、トークンごとに再利用する。
func (a *TwitterAdapter) FetchPage(ctx context.Context, req Request) (Page, error) {
	token := req.Credential.Get("access_token")
	userID := req.Credential.Get("twitter_user_id")
	username := req.Credential.Get("twitter_username")

	if userID == "" {
		me, err := a.resolveIdentity(ctx, token)
		if err != nil {
			return Page{}, err
		}
		userID = me.userID
		if username == "" {
			username = me.username
		}
	}

	size := pageSize(req.Limit, twitterPageMax)
	if size < twitterPageMin {
		size = twitterPageMin
	}
	params := map[string]string{
		"max_results":  strconv.Itoa(size),
		"tweet.fields": twitterTweetFields,
	}
	if !req.Since.IsZero() {
		params["start_time"] = req.Since.UTC().Format(time.RFC3339)
	}
	if req.Cursor != "" {
		params["pagination_token"] = req.Cursor
	}

	var timeline twitterTimeline
	if err := a.client.getJSON(ctx, "/2/users/"+userID+"/tweets", params, bearer(token), &timeline); err != nil {
		return Page{}, err
	}

	items := make([]model.NormalizedItem, 0, len(timeline.Data))
	for _, raw := range timeline.Data {
		var tw twitterTweet
		if err := json.Unmarshal(raw, &tw); err != nil || tw.ID == "" {
			continue
		}
		items = append(items, normalizeTweet(tw, username, raw))
	}

	return Page{Items: items, NextCursor: timeline.Meta.NextToken}, nil
}

// resolveIdentity はアクセストークンの持ち主を返す。解決済みの場合はAPIを呼ばない。
func (a *TwitterAdapter) resolveIdentity(ctx context.Context, token string) (twitterIdentity, error) {
	a.mu.Lock()
	id, ok := a.identities[token]
	a.mu.Unlock()
	if ok {
		return id, nil
	}

	var me twitterMe
	if err := a.client.getJSON(ctx, "/2/users/me", nil, bearer(token), &me); err != nil {
		return twitterIdentity{}, err
	}
	id = twitterIdentity{userID: me.Data.ID, username: me.Data.Username}
	if id.userID == "" {
		return twitterIdentity{}, &ProviderError{Provider: "twitter", Message: "ユーザーIDを解決できませんでした"}
	}

	a.mu.Lock()
	a.identities[token] = id
	a.mu.Unlock()
	return id, nil
}

func normalizeTweet(tw twitterTweet, username string, raw json.RawMessage) model.NormalizedItem {
	m := tw.PublicMetrics
	return model.NormalizedItem{
		ExternalID:  tw.ID,
		Kind:        model.ContentKindPost,
		Text:        tw.Text,
		URL:         twitterStatusURL + tw.ID,
		Author:      username,
		PublishedAt: parseTime(tw.CreatedAt),
		Metadata: map[string]any{
			"public_metrics": map[string]any{
				"retweet_count": m.RetweetCount,
				"reply_count":   m.ReplyCount,
				"like_count":    m.LikeCount,
				"quote_count":   m.QuoteCount,
			},
			"lang":       tw.Lang,
			"engagement": engagement(m.LikeCount, m.RetweetCount, m.ReplyCount),
		},
		Raw: raw,
	}
}

// providerTimeLayouts はプロバイダが返す日時形式。
var providerTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000-0700",
}

// parseTime はプロバイダの日時文字列を解析する。解析できない場合はnilを返す。
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range providerTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
