package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/dailydigest/internal/model"
)

const (
	defaultRSSMaxBodySize = 5 * 1024 * 1024
	rssUserAgent          = "DailyDigest/1.0 RSS Reader"
)

// URLValidator はリクエスト前にURLを検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// TextExtractor はHTMLからプレーンテキストを抽出する。
type TextExtractor interface {
	Extract(rawHTML string) string
}

// RSSAdapter はRSS/Atomフィードを取得するアダプタ。
// ページカーソルと認証情報は持たず、エントリのGUIDまたはリンクを外部IDとする。
type RSSAdapter struct {
	client      *http.Client
	validator   URLValidator
	extractor   TextExtractor
	maxBodySize int64
}

// NewRSSAdapter はRSSAdapterを生成する。
// clientにはSSRF防止機能付きのHTTPクライアントを渡すことを想定している。
func NewRSSAdapter(client *http.Client, validator URLValidator, extractor TextExtractor, maxBodySize int64) *RSSAdapter {
	if maxBodySize <= 0 {
		maxBodySize = defaultRSSMaxBodySize
	}
	return &RSSAdapter{
		client:      client,
		validator:   validator,
		extractor:   extractor,
		maxBodySize: maxBodySize,
	}
}

func (a *RSSAdapter) Type() model.SourceType { return model.SourceTypeRSS }

func (a *RSSAdapter) CredentialKey() string { return "" }

// FetchPage はフィード全体を取得し、Since より後のエントリを先頭からLimit件返す。
func (a *RSSAdapter) FetchPage(ctx context.Context, req Request) (Page, error) {
	feedURL, _ := req.Settings["feed_url"].(string)
	if feedURL == "" {
		return Page{}, &ProviderError{Provider: "rss", Message: "feed_url が設定されていません"}
	}
	if a.validator != nil {
		if err := a.validator.ValidateURL(feedURL); err != nil {
			return Page{}, &ProviderError{Provider: "rss", Message: fmt.Sprintf("SSRF検証に失敗しました: %v", err)}
		}
	}

	body, contentType, err := a.fetch(ctx, feedURL)
	if err != nil {
		return Page{}, err
	}

	// HTMLページが指定された場合はheadのalternateリンクからフィードを探す
	if isHTMLContent(contentType) {
		link, ok := selectFeedLink(feedLinksFromHTML(body, feedURL), feedURL)
		if !ok {
			return Page{}, &ProviderError{Provider: "rss", Message: fmt.Sprintf("フィードが見つかりませんでした: %s", feedURL)}
		}
		if a.validator != nil {
			if err := a.validator.ValidateURL(link); err != nil {
				return Page{}, &ProviderError{Provider: "rss", Message: fmt.Sprintf("SSRF検証に失敗しました: %v", err)}
			}
		}
		body, _, err = a.fetch(ctx, link)
		if err != nil {
			return Page{}, err
		}
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return Page{}, &ProviderError{Provider: "rss", Message: fmt.Sprintf("フィードの解析に失敗しました: %v", err)}
	}

	limit := pageSize(req.Limit, DefaultLimit)
	items := make([]model.NormalizedItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if len(items) >= limit {
			break
		}
		item, ok := a.normalize(feed, entry)
		if !ok {
			continue
		}
		// 日付の無いエントリは残す
		if !req.Since.IsZero() && item.PublishedAt != nil && !item.PublishedAt.After(req.Since) {
			continue
		}
		items = append(items, item)
	}

	return Page{Items: items}, nil
}

// fetch はURLの本文を最大maxBodySizeバイト読み込み、Content-Typeと共に返す。
func (a *RSSAdapter) fetch(ctx context.Context, target string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", &ProviderError{Provider: "rss", Message: fmt.Sprintf("リクエスト作成に失敗しました: %v", err)}
	}
	httpReq.Header.Set("User-Agent", rssUserAgent)
	httpReq.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.8, */*;q=0.5")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, "", &ProviderError{Provider: "rss", Err: err}
	}
	defer resp.Body.Close()

	if ClassifyStatus(resp.StatusCode) != StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, "", newStatusError("rss", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBodySize))
	if err != nil {
		return nil, "", &ProviderError{Provider: "rss", Err: err}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (a *RSSAdapter) normalize(feed *gofeed.Feed, entry *gofeed.Item) (model.NormalizedItem, bool) {
	externalID := entry.GUID
	if externalID == "" {
		externalID = entry.Link
	}
	if externalID == "" {
		return model.NormalizedItem{}, false
	}

	body := entry.Description
	if body == "" {
		body = entry.Content
	}
	text := body
	if a.extractor != nil {
		text = a.extractor.Extract(body)
	}

	author := ""
	if entry.Author != nil {
		author = entry.Author.Name
	} else if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		author = entry.Authors[0].Name
	}

	published := entry.PublishedParsed
	if published == nil {
		published = entry.UpdatedParsed
	}
	if published != nil {
		t := published.UTC()
		published = &t
	}

	tags := entry.Categories
	if tags == nil {
		tags = []string{}
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		raw = nil
	}

	return model.NormalizedItem{
		ExternalID:  externalID,
		Kind:        model.ContentKindArticle,
		Title:       entry.Title,
		Text:        text,
		URL:         entry.Link,
		Author:      author,
		PublishedAt: published,
		Metadata: map[string]any{
			"feed_title": feed.Title,
			"feed_link":  feed.Link,
			"tags":       tags,
		},
		Raw: raw,
	}, true
}
