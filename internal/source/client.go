package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ClientOptions はプロバイダAPIクライアントの設定。
type ClientOptions struct {
	// BaseURL はAPIのベースURL。空の場合はプロバイダ既定のURLを使う。
	BaseURL string
	// Timeout は1リクエストのタイムアウト。
	Timeout time.Duration
	// RequestsPerSecond はプロバイダへの送信レート上限。0以下なら無制限。
	RequestsPerSecond float64
}

const defaultProviderTimeout = 30 * time.Second

// providerClient はレート制限付きのプロバイダAPIクライアント。
type providerClient struct {
	provider string
	http     *resty.Client
	limiter  *rate.Limiter
}

func newProviderClient(provider, defaultBaseURL string, opts ClientOptions) *providerClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "DailyDigest/1.0").
		SetTimeout(timeout)

	return &providerClient{provider: provider, http: c, limiter: limiter}
}

// getJSON はGETリクエストを送信し、応答をoutにデコードする。
// pathが絶対URLの場合はベースURLを無視する。
func (c *providerClient) getJSON(ctx context.Context, path string, params map[string]string, headers map[string]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &ProviderError{Provider: c.provider, Err: err}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetHeaders(headers).
		Get(path)
	if err != nil {
		return &ProviderError{Provider: c.provider, Err: err}
	}
	if ClassifyStatus(resp.StatusCode()) != StatusOK {
		return newStatusError(c.provider, resp.StatusCode(), resp.String())
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &ProviderError{
			Provider: c.provider,
			Message:  fmt.Sprintf("応答の解析に失敗しました: %v", err),
		}
	}
	return nil
}

// bearer はBearer認証ヘッダーを返す。
func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
