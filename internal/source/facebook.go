package source

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/hitoshi/dailydigest/internal/model"
)

const (
	facebookBaseURL = "https://graph.facebook.com"
	facebookFeed    = "/v18.0/me/feed"
	facebookPageMax = 100
	facebookFields  = "id,message,created_time,from,likes.summary(true),comments.summary(true),shares"
	facebookPostURL = "https://www.facebook.com/"
)

// FacebookAdapter はFacebook Graph APIのフィードを取得するアダプタ。
type FacebookAdapter struct {
	client *providerClient
}

// NewFacebookAdapter はFacebookAdapterを生成する。
func NewFacebookAdapter(opts ClientOptions) *FacebookAdapter {
	return &FacebookAdapter{client: newProviderClient("facebook", facebookBaseURL, opts)}
}

func (a *FacebookAdapter) Type() model.SourceType { return model.SourceTypeFacebook }

func (a *FacebookAdapter) CredentialKey() string { return "access_token" }

type facebookSummary struct {
	Summary struct {
		TotalCount int `json:"total_count"`
	} `json:"summary"`
}

type facebookPost struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	CreatedTime string `json:"created_time"`
	From        struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"from"`
	Likes    facebookSummary `json:"likes"`
	Comments facebookSummary `json:"comments"`
	Shares   struct {
		Count int `json:"count"`
	} `json:"shares"`
}

type facebookFeedResponse struct {
	Data   []json.RawMessage `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// FetchPage はフィードを1ページ取得する。
// カーソルにはGraph APIが返すpaging.nextの完全なURLを使う。
func (a *FacebookAdapter) FetchPage(ctx context.Context, req Request) (Page, error) {
	path := facebookFeed
	var params map[string]string
	if req.Cursor != "" {
		path = req.Cursor
	} else {
		params = map[string]string{
			"access_token": req.Credential.Get("access_token"),
			"fields":       facebookFields,
			"limit":        strconv.Itoa(pageSize(req.Limit, facebookPageMax)),
		}
		if !req.Since.IsZero() {
			params["since"] = strconv.FormatInt(req.Since.Unix(), 10)
		}
	}

	var feed facebookFeedResponse
	if err := a.client.getJSON(ctx, path, params, nil, &feed); err != nil {
		return Page{}, err
	}

	items := make([]model.NormalizedItem, 0, len(feed.Data))
	for _, raw := range feed.Data {
		var post facebookPost
		if err := json.Unmarshal(raw, &post); err != nil || post.ID == "" {
			continue
		}
		items = append(items, normalizeFacebookPost(post, raw))
	}

	return Page{Items: items, NextCursor: feed.Paging.Next}, nil
}

func normalizeFacebookPost(post facebookPost, raw json.RawMessage) model.NormalizedItem {
	likes := post.Likes.Summary.TotalCount
	comments := post.Comments.Summary.TotalCount
	shares := post.Shares.Count
	return model.NormalizedItem{
		ExternalID:  post.ID,
		Kind:        model.ContentKindPost,
		Text:        post.Message,
		URL:         facebookPostURL + post.ID,
		Author:      post.From.Name,
		PublishedAt: parseTime(post.CreatedTime),
		Metadata: map[string]any{
			"likes":      likes,
			"comments":   comments,
			"shares":     shares,
			"engagement": engagement(likes, shares, comments),
		},
		Raw: raw,
	}
}
