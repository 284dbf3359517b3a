// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/hitoshi/dailydigest/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// clientIDContextKey はリクエストコンテキストに呼び出し元IDを格納するためのキー。
	clientIDContextKey = contextKey("client_id")
	// clientIDSinkContextKey は外側のミドルウェアが呼び出し元IDを受け取るための格納先のキー。
	clientIDSinkContextKey = contextKey("client_id_sink")
)

// NewAPITokenMiddleware は Authorization: Bearer ヘッダーのトークンを検証するミドルウェアを返す。
// 認証済みリクエストには呼び出し元のIPアドレスを呼び出し元IDとしてコンテキストに注入する。
// トークンが無い、または一致しない場合は401 Unauthorizedを返す。
func NewAPITokenMiddleware(token string) func(next http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if !ok || len(expected) == 0 || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="dailydigest"`)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := ContextWithClientID(r.Context(), clientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// clientIP はリクエスト送信元のIPアドレスを返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIDFromContext はリクエストコンテキストから呼び出し元IDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ値を持つ。
func ClientIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientIDContextKey).(string)
	return id, ok && id != ""
}

// ContextWithClientID はコンテキストに呼び出し元IDを注入する。
// 外側のミドルウェアが格納先を用意している場合はそこにも書き込む。
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	if sink, ok := ctx.Value(clientIDSinkContextKey).(*string); ok {
		*sink = clientID
	}
	return context.WithValue(ctx, clientIDContextKey, clientID)
}

func withClientIDSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, clientIDSinkContextKey, sink)
}
