package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hitoshi/dailydigest/internal/model"
)

const (
	telegramBaseURL = "https://api.telegram.org"
	telegramPageMax = 100
)

// TelegramAdapter はTelegram Bot APIのgetUpdatesでメッセージを取得するアダプタ。
// カーソルは次に要求するupdate_id（offset）で、要求したoffset未満の更新は確認済みとなる。
type TelegramAdapter struct {
	client *providerClient
}

// NewTelegramAdapter はTelegramAdapterを生成する。
func NewTelegramAdapter(opts ClientOptions) *TelegramAdapter {
	return &TelegramAdapter{client: newProviderClient("telegram", telegramBaseURL, opts)}
}

func (a *TelegramAdapter) Type() model.SourceType { return model.SourceTypeTelegram }

func (a *TelegramAdapter) CredentialKey() string { return "bot_token" }

type telegramChat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Username string `json:"username"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type telegramMessage struct {
	MessageID int64             `json:"message_id"`
	From      *telegramUser     `json:"from"`
	Chat      telegramChat      `json:"chat"`
	Date      int64             `json:"date"`
	Text      string            `json:"text"`
	Caption   string            `json:"caption"`
	Photo     []json.RawMessage `json:"photo"`
	Video     json.RawMessage   `json:"video"`
	Document  json.RawMessage   `json:"document"`
}

type telegramUpdate struct {
	UpdateID    int64            `json:"update_id"`
	Message     *telegramMessage `json:"message"`
	ChannelPost *telegramMessage `json:"channel_post"`
}

type telegramResponse struct {
	OK          bool              `json:"ok"`
	Result      []json.RawMessage `json:"result"`
	ErrorCode   int               `json:"error_code"`
	Description string            `json:"description"`
}

// FetchPage は更新を1ページ取得し、メッセージとチャンネル投稿を正規化する。
// APIに期間指定が無いため、Since以前のメッセージはクライアント側で除外する。
func (a *TelegramAdapter) FetchPage(ctx context.Context, req Request) (Page, error) {
	size := pageSize(req.Limit, telegramPageMax)
	params := map[string]string{
		"limit":   strconv.Itoa(size),
		"timeout": "0",
	}
	if req.Cursor != "" {
		params["offset"] = req.Cursor
	}

	var resp telegramResponse
	path := "/bot" + req.Credential.Get("bot_token") + "/getUpdates"
	if err := a.client.getJSON(ctx, path, params, nil, &resp); err != nil {
		return Page{}, err
	}
	if !resp.OK {
		return Page{}, &ProviderError{
			Provider:   "telegram",
			StatusCode: resp.ErrorCode,
			Message:    resp.Description,
		}
	}

	var lastUpdateID int64
	items := make([]model.NormalizedItem, 0, len(resp.Result))
	for _, raw := range resp.Result {
		var upd telegramUpdate
		if err := json.Unmarshal(raw, &upd); err != nil {
			continue
		}
		if upd.UpdateID > lastUpdateID {
			lastUpdateID = upd.UpdateID
		}

		msg := upd.Message
		if msg == nil {
			msg = upd.ChannelPost
		}
		if msg == nil {
			continue
		}
		published := time.Unix(msg.Date, 0).UTC()
		if !req.Since.IsZero() && !published.After(req.Since) {
			continue
		}
		items = append(items, normalizeTelegramMessage(msg, published, raw))
	}

	next := ""
	if len(resp.Result) >= size && lastUpdateID > 0 {
		next = strconv.FormatInt(lastUpdateID+1, 10)
	}
	return Page{Items: items, NextCursor: next}, nil
}

func normalizeTelegramMessage(msg *telegramMessage, published time.Time, raw json.RawMessage) model.NormalizedItem {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	author := msg.Chat.Title
	if msg.From != nil {
		author = msg.From.Username
		if author == "" {
			author = msg.From.FirstName
		}
	}

	return model.NormalizedItem{
		ExternalID:  fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID),
		Kind:        model.ContentKindMessage,
		Text:        text,
		Author:      author,
		PublishedAt: &published,
		Metadata: map[string]any{
			"chat_id":      msg.Chat.ID,
			"chat_type":    msg.Chat.Type,
			"message_type": telegramMessageType(msg),
		},
		Raw: raw,
	}
}

func telegramMessageType(msg *telegramMessage) string {
	switch {
	case msg.Text != "":
		return "text"
	case len(msg.Photo) > 0:
		return "photo"
	case len(msg.Video) > 0:
		return "video"
	case len(msg.Document) > 0:
		return "document"
	default:
		return "other"
	}
}
