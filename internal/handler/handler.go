// Package handler はUIシェル向けローカルブリッジのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/tenantdesk/internal/auth"
	"github.com/hitoshi/tenantdesk/internal/credential"
	"github.com/hitoshi/tenantdesk/internal/middleware"
	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/navigation"
)

// maxRequestBodyBytes はリクエストボディの上限。
const maxRequestBodyBytes = 64 << 10

// SessionControllerInterface はセッションハンドラーが必要とするセッション操作。
type SessionControllerInterface interface {
	Session() model.Session
	Token() (string, bool)
	SignOut(ctx context.Context) model.Session
}

// LoginServiceInterface はログイン・登録処理のインターフェース。
type LoginServiceInterface interface {
	Login(ctx context.Context, email, password string) (auth.LoginOutcome, error)
	Register(ctx context.Context, name, email, password string) (string, error)
	CompleteThirdPartyLogin(ctx context.Context) error
}

// OTPFlowInterface は電話番号確認フローのインターフェース。
type OTPFlowInterface interface {
	Challenge() model.OtpChallenge
	SubmitPhone(ctx context.Context, phone string) (model.OtpChallenge, error)
	SubmitCode(ctx context.Context, code string) (model.OtpChallenge, error)
	Abandon()
}

// CredentialCheckerInterface はログインフォームの入力判定。
type CredentialCheckerInterface interface {
	Check(email, password string) credential.Result
}

// NavigatorInterface は現在のルート画面を返す。
type NavigatorInterface interface {
	Current() navigation.Root
}

// decodeJSON はリクエストボディをdstにデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: model.CategoryValidation,
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
