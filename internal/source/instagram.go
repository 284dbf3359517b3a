package source

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/hitoshi/dailydigest/internal/model"
)

const (
	instagramBaseURL  = "https://graph.instagram.com"
	instagramMedia    = "/me/media"
	instagramPageMax  = 100
	instagramFields   = "id,caption,media_type,media_url,permalink,thumbnail_url,timestamp,username"
	instagramTitleMax = 200
)

// InstagramAdapter はInstagram Graph APIのメディアを取得するアダプタ。
// APIに期間指定が無いため、Sinceより古いメディアはクライアント側で除外する。
type InstagramAdapter struct {
	client *providerClient
}

// NewInstagramAdapter はInstagramAdapterを生成する。
func NewInstagramAdapter(opts ClientOptions) *InstagramAdapter {
	return &InstagramAdapter{client: newProviderClient("instagram", instagramBaseURL, opts)}
}

func (a *InstagramAdapter) Type() model.SourceType { return model.SourceTypeInstagram }

func (a *InstagramAdapter) CredentialKey() string { return "access_token" }

type instagramMediaItem struct {
	ID           string `json:"id"`
	Caption      string `json:"caption"`
	MediaType    string `json:"media_type"`
	MediaURL     string `json:"media_url"`
	Permalink    string `json:"permalink"`
	ThumbnailURL string `json:"thumbnail_url"`
	Timestamp    string `json:"timestamp"`
	Username     string `json:"username"`
}

type instagramMediaResponse struct {
	Data   []json.RawMessage `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

// FetchPage はメディアを1ページ取得する。
// メディアは新しい順に返るため、Sinceより古いメディアに到達した時点でページ送りを終える。
func (a *InstagramAdapter) FetchPage(ctx context.Context, req Request) (Page, error) {
	params := map[string]string{
		"access_token": req.Credential.Get("access_token"),
		"fields":       instagramFields,
		"limit":        strconv.Itoa(pageSize(req.Limit, instagramPageMax)),
	}
	if req.Cursor != "" {
		params["after"] = req.Cursor
	}

	var resp instagramMediaResponse
	if err := a.client.getJSON(ctx, instagramMedia, params, nil, &resp); err != nil {
		return Page{}, err
	}

	reachedWindowEnd := false
	items := make([]model.NormalizedItem, 0, len(resp.Data))
	for _, raw := range resp.Data {
		var media instagramMediaItem
		if err := json.Unmarshal(raw, &media); err != nil || media.ID == "" {
			continue
		}
		item := normalizeInstagramMedia(media, raw)
		if item.PublishedAt != nil && !req.Since.IsZero() && !item.PublishedAt.After(req.Since) {
			reachedWindowEnd = true
			continue
		}
		items = append(items, item)
	}

	next := ""
	if resp.Paging.Next != "" && !reachedWindowEnd {
		next = resp.Paging.Cursors.After
	}
	return Page{Items: items, NextCursor: next}, nil
}

func normalizeInstagramMedia(media instagramMediaItem, raw json.RawMessage) model.NormalizedItem {
	return model.NormalizedItem{
		ExternalID:  media.ID,
		Kind:        model.ContentKindPost,
		Title:       truncateRunes(media.Caption, instagramTitleMax),
		Text:        media.Caption,
		URL:         media.Permalink,
		Author:      media.Username,
		PublishedAt: parseTime(media.Timestamp),
		Metadata: map[string]any{
			"media_type":    media.MediaType,
			"media_url":     media.MediaURL,
			"thumbnail_url": media.ThumbnailURL,
			"permalink":     media.Permalink,
		},
		Raw: raw,
	}
}
