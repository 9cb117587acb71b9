package middleware

import (
	"mime"
	"net/http"

	"github.com/hitoshi/tenantdesk/internal/model"
)

// NewCORSMiddleware はUIシェルのオリジンだけを許可するCORSミドルウェアを返す。
// ワイルドカード(*)は使用しない。OPTIONSプリフライトリクエストには204で応答する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewJSONOnlyMiddleware はPOST/PUT/PATCHにContent-Type: application/jsonを要求する。
// 別オリジンのフォーム送信はプリフライトなしで届くため、ここで拒否する。
// ボディもContent-Typeもないリクエスト（ログアウト等）は通す。
func NewJSONOnlyMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				if r.ContentLength == 0 && r.Header.Get("Content-Type") == "" {
					break
				}
				mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
				if err != nil || mediaType != "application/json" {
					WriteErrorResponse(w, http.StatusUnsupportedMediaType, &model.APIError{
						Code:     "UNSUPPORTED_MEDIA_TYPE",
						Message:  "Content-Typeはapplication/jsonを指定してください。",
						Category: model.CategoryValidation,
						Action:   "JSON形式で送信してください。",
					})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
