package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/tenantdesk/internal/auth"
	"github.com/hitoshi/tenantdesk/internal/middleware"
)

type sessionResponse struct {
	State          string     `json:"state"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

type navigationResponse struct {
	Root string `json:"root"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type credentialsCheckResponse struct {
	EmailValid    bool `json:"email_valid"`
	PasswordValid bool `json:"password_valid"`
	CanSubmit     bool `json:"can_submit"`
}

type loginResponse struct {
	State       string `json:"state"`
	OtpRequired bool   `json:"otp_required"`
	Message     string `json:"message,omitempty"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// SessionHandler はセッション・ログイン関連のHTTPハンドラー。
type SessionHandler struct {
	controller SessionControllerInterface
	login      LoginServiceInterface
	checker    CredentialCheckerInterface
	navigator  NavigatorInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(
	controller SessionControllerInterface,
	login LoginServiceInterface,
	checker CredentialCheckerInterface,
	navigator NavigatorInterface,
) *SessionHandler {
	return &SessionHandler{
		controller: controller,
		login:      login,
		checker:    checker,
		navigator:  navigator,
	}
}

// GetSession は現在のセッション状態を返す。トークン自体は含めない。
// GET /session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s := h.controller.Session()
	resp := sessionResponse{State: string(s.State)}

	if s.IsAuthenticated() {
		// 不透明トークンの場合は有効期限を省略する
		if info, err := auth.InspectToken(s.Token); err == nil && !info.ExpiresAt.IsZero() {
			exp := info.ExpiresAt.UTC()
			resp.TokenExpiresAt = &exp
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetNavigation はマウントすべきルート画面を返す。
// GET /navigation
func (h *SessionHandler) GetNavigation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, navigationResponse{Root: string(h.navigator.Current())})
}

// GetToken はログイン済みのベアラートークンを返す。ゲートミドルウェアの内側でのみ使う。
// GET /session/token
func (h *SessionHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// ValidateCredentials はログインフォームの入力を判定する。
// POST /credentials/validate
func (h *SessionHandler) ValidateCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res := h.checker.Check(req.Email, req.Password)
	writeJSON(w, http.StatusOK, credentialsCheckResponse{
		EmailValid:    res.EmailValid,
		PasswordValid: res.PasswordValid,
		CanSubmit:     res.CanSubmit(),
	})
}

// Login はメールアドレスとパスワードでログインする。
// 二段階認証が必要な場合は200でotp_required=trueを返す。
// POST /session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	outcome, err := h.login.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		State:       string(h.controller.Session().State),
		OtpRequired: outcome.OtpRequired,
		Message:     outcome.Message,
	})
}

// CompleteThirdParty はブラウザで完了したサードパーティログインを取り込む。
// POST /session/third-party
func (h *SessionHandler) CompleteThirdParty(w http.ResponseWriter, r *http.Request) {
	if err := h.login.CompleteThirdPartyLogin(r.Context()); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{State: string(h.controller.Session().State)})
}

// Logout はログアウトする。ストレージの削除失敗でも未ログインとして応答する。
// POST /session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	s := h.controller.SignOut(r.Context())
	writeJSON(w, http.StatusOK, sessionResponse{State: string(s.State)})
}

// Register はユーザーを登録する。セッションは変わらない。
// POST /register
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.login.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: msg})
}

