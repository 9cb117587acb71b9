package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/tenantdesk/internal/auth"
	"github.com/hitoshi/tenantdesk/internal/credential"
	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/navigation"
)

// --- モック定義 ---

// mockController はSessionControllerInterfaceのモック実装。
type mockController struct {
	session     model.Session
	signOutFn   func(ctx context.Context) model.Session
	signOutCall int
}

func (m *mockController) Session() model.Session { return m.session }

func (m *mockController) Token() (string, bool) {
	if m.session.IsAuthenticated() {
		return m.session.Token, true
	}
	return "", false
}

func (m *mockController) SignOut(ctx context.Context) model.Session {
	m.signOutCall++
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	m.session = model.Session{State: model.SessionUnauthenticated}
	return m.session
}

// mockLoginService はLoginServiceInterfaceのモック実装。
type mockLoginService struct {
	loginFn      func(ctx context.Context, email, password string) (auth.LoginOutcome, error)
	registerFn   func(ctx context.Context, name, email, password string) (string, error)
	thirdPartyFn func(ctx context.Context) error
}

func (m *mockLoginService) Login(ctx context.Context, email, password string) (auth.LoginOutcome, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return auth.LoginOutcome{}, nil
}

func (m *mockLoginService) Register(ctx context.Context, name, email, password string) (string, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, name, email, password)
	}
	return "", nil
}

func (m *mockLoginService) CompleteThirdPartyLogin(ctx context.Context) error {
	if m.thirdPartyFn != nil {
		return m.thirdPartyFn(ctx)
	}
	return nil
}

// mockFlow はOTPFlowInterfaceのモック実装。
type mockFlow struct {
	challenge    model.OtpChallenge
	submitPhone  func(ctx context.Context, phone string) (model.OtpChallenge, error)
	submitCode   func(ctx context.Context, code string) (model.OtpChallenge, error)
	abandonCalls int
}

func (m *mockFlow) Challenge() model.OtpChallenge { return m.challenge }

func (m *mockFlow) SubmitPhone(ctx context.Context, phone string) (model.OtpChallenge, error) {
	if m.submitPhone != nil {
		return m.submitPhone(ctx, phone)
	}
	return m.challenge, nil
}

func (m *mockFlow) SubmitCode(ctx context.Context, code string) (model.OtpChallenge, error) {
	if m.submitCode != nil {
		return m.submitCode(ctx, code)
	}
	return m.challenge, nil
}

func (m *mockFlow) Abandon() { m.abandonCalls++ }

// stubNavigator はNavigatorInterfaceの固定値実装。
type stubNavigator navigation.Root

func (s stubNavigator) Current() navigation.Root { return navigation.Root(s) }

// --- ヘルパー ---

// newTestRouter はモックを注入したルーターを生成する。未指定の依存はゼロ値のモックで埋める。
func newTestRouter(deps *RouterDeps) *RouterDeps {
	if deps.Controller == nil {
		deps.Controller = &mockController{session: model.Session{State: model.SessionUnauthenticated}}
	}
	if deps.LoginService == nil {
		deps.LoginService = &mockLoginService{}
	}
	if deps.Checker == nil {
		deps.Checker = credential.NewValidator()
	}
	if deps.Navigator == nil {
		deps.Navigator = stubNavigator(navigation.RootPublic)
	}
	if deps.OTPFlow == nil {
		deps.OTPFlow = &mockFlow{challenge: model.OtpChallenge{Status: model.OtpIdle}}
	}
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	if deps.CORSAllowedOrigin == "" {
		deps.CORSAllowedOrigin = "http://localhost:8081"
	}
	return deps
}

// decodeBody はレスポンスボディをmapにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
	return result
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// serve はルーターにリクエストを送るヘルパー。bodyが空でなければJSONとして送る。
func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
