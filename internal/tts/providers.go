package tts

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultTimeout = 120 * time.Second
	maxErrorBody   = 300

	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsModel        = "eleven_multilingual_v2"
	elevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM"

	openAIBaseURL      = "https://api.openai.com"
	openAIModel        = "tts-1"
	openAIDefaultVoice = "alloy"
)

// ProviderConfig は音声合成プロバイダの設定。
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Timeout time.Duration
}

func newRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "audio/mpeg").
		SetTimeout(timeout)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// statusError は音声合成APIの失敗ステータスをエラーに変換する。
func statusError(provider string, resp *resty.Response) error {
	body := []rune(resp.String())
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return fmt.Errorf("%s APIがステータス %d を返しました: %s", provider, resp.StatusCode(), string(body))
}

// ElevenLabs はElevenLabsのText-to-Speech APIを使うRenderer。
type ElevenLabs struct {
	client *resty.Client
	model  string
	voice  string
}

var _ Renderer = (*ElevenLabs)(nil)

// NewElevenLabs はElevenLabsを生成する。
func NewElevenLabs(cfg ProviderConfig) *ElevenLabs {
	c := newRestyClient(orDefault(cfg.BaseURL, elevenLabsBaseURL), cfg.Timeout).
		SetHeader("xi-api-key", cfg.APIKey)
	return &ElevenLabs{
		client: c,
		model:  orDefault(cfg.Model, elevenLabsModel),
		voice:  orDefault(cfg.Voice, elevenLabsDefaultVoice),
	}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Render はテキストを音声に変換する。opts.Voiceが指定された場合はその音声IDを使う。
func (e *ElevenLabs) Render(ctx context.Context, text string, opts Options) ([]byte, error) {
	voice := orDefault(opts.Voice, e.voice)
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(&elevenLabsRequest{Text: text, ModelID: e.model}).
		SetPathParam("voice", voice).
		Post("/v1/text-to-speech/{voice}")
	if err != nil {
		return nil, fmt.Errorf("elevenlabs APIの呼び出しに失敗しました: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError("elevenlabs", resp)
	}
	if len(resp.Body()) == 0 {
		return nil, fmt.Errorf("elevenlabs APIの音声データが空です")
	}
	return resp.Body(), nil
}

// OpenAI はOpenAIのSpeech APIを使うRenderer。
// 音声IDの体系が異なるため、opts.Voiceは使わず設定の音声を使う。
type OpenAI struct {
	client *resty.Client
	model  string
	voice  string
}

var _ Renderer = (*OpenAI)(nil)

// NewOpenAI はOpenAIを生成する。
func NewOpenAI(cfg ProviderConfig) *OpenAI {
	c := newRestyClient(orDefault(cfg.BaseURL, openAIBaseURL), cfg.Timeout).
		SetAuthToken(cfg.APIKey)
	return &OpenAI{
		client: c,
		model:  orDefault(cfg.Model, openAIModel),
		voice:  orDefault(cfg.Voice, openAIDefaultVoice),
	}
}

func (o *OpenAI) Name() string { return "openai" }

type openAISpeechRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
	Input string `json:"input"`
}

// Render はテキストを音声に変換する。
func (o *OpenAI) Render(ctx context.Context, text string, _ Options) ([]byte, error) {
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(&openAISpeechRequest{Model: o.model, Voice: o.voice, Input: text}).
		Post("/v1/audio/speech")
	if err != nil {
		return nil, fmt.Errorf("openai APIの呼び出しに失敗しました: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError("openai", resp)
	}
	if len(resp.Body()) == 0 {
		return nil, fmt.Errorf("openai APIの音声データが空です")
	}
	return resp.Body(), nil
}
