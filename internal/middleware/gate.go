// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/tenantdesk/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// tokenContextKey はリクエストコンテキストにベアラートークンを格納するためのキー。
var tokenContextKey = contextKey("session_token")

// TokenSource はログイン済みの場合にトークンを返す。auth.Controllerが実装する。
type TokenSource interface {
	Token() (string, bool)
}

// NewGateMiddleware は端末のセッションがログイン済みの場合のみ通過させるミドルウェアを返す。
// トークンをリクエストコンテキストに注入する。未ログインの場合は401を返す。
func NewGateMiddleware(source TokenSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := source.Token()
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "UNAUTHORIZED",
					Message:  "ログインしていません。",
					Category: "auth",
					Action:   "ログインしてから再度お試しください。",
				})
				return
			}

			ctx := context.WithValue(r.Context(), tokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromContext はゲートミドルウェアを通過したリクエストからトークンを取得する。
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey).(string)
	return token, ok && token != ""
}
