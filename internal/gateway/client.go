package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tenantdesk/internal/metrics"
	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/security"
)

const (
	pathLogin        = "/user/login"
	pathRegister     = "/user/register"
	pathSendOTP      = "/api/otp/sendOTP"
	pathVerifyOTP    = "/api/otp/verifyOTP"
	pathLoginSuccess = "/login/success"

	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20

	userAgent = "Tenantdesk/1.0"
)

// Client はAuthGatewayのHTTP実装。
type Client struct {
	httpClient *http.Client
	baseURL    string
	sanitizer  security.MessageSanitizerService
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLの末尾のスラッシュは取り除く。
func NewClient(
	httpClient *http.Client,
	baseURL string,
	sanitizer security.MessageSanitizerService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Client {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		sanitizer:  sanitizer,
		metrics:    collector,
		logger:     logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// Login はPOST /user/loginを呼び出す。
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var resp loginResponse
	if err := c.do(ctx, "login", http.MethodPost, pathLogin, loginRequest{Email: email, Password: password}, &resp); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		Message: c.sanitizer.Sanitize(resp.Message),
		Token:   resp.Token,
	}, nil
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Register はPOST /user/registerを呼び出す。
func (c *Client) Register(ctx context.Context, name, email, password string) (RegisterResult, error) {
	var resp registerResponse
	body := registerRequest{Name: name, Email: email, Password: password}
	if err := c.do(ctx, "register", http.MethodPost, pathRegister, body, &resp); err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{
		Success: resp.Success,
		Message: c.sanitizer.Sanitize(resp.Message),
	}, nil
}

type sendOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// SendOTP はPOST /api/otp/sendOTPを呼び出す。
func (c *Client) SendOTP(ctx context.Context, phoneNumber string) (SendOTPResult, error) {
	var resp messageResponse
	if err := c.do(ctx, "send_otp", http.MethodPost, pathSendOTP, sendOTPRequest{PhoneNumber: phoneNumber}, &resp); err != nil {
		return SendOTPResult{}, err
	}
	return SendOTPResult{Message: c.sanitizer.Sanitize(resp.Message)}, nil
}

type verifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	OTP         string `json:"otp"`
}

type userPayload struct {
	Token string `json:"token"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type verifyOTPResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	User    *userPayload `json:"user"`
}

// VerifyOTP はPOST /api/otp/verifyOTPを呼び出す。
func (c *Client) VerifyOTP(ctx context.Context, phoneNumber, otp string) (VerifyOTPResult, error) {
	var resp verifyOTPResponse
	body := verifyOTPRequest{PhoneNumber: phoneNumber, OTP: otp}
	if err := c.do(ctx, "verify_otp", http.MethodPost, pathVerifyOTP, body, &resp); err != nil {
		return VerifyOTPResult{}, err
	}

	result := VerifyOTPResult{
		Success: resp.Success,
		Message: c.sanitizer.Sanitize(resp.Message),
	}
	if resp.User != nil {
		result.Token = resp.User.Token
	}
	return result, nil
}

type loginSuccessResponse struct {
	Message string       `json:"message"`
	User    *userPayload `json:"user"`
}

// LoginSuccess はGET /login/successを呼び出す。
// ブラウザ側で確立したCookieはhttpClientのJarから送られる。
func (c *Client) LoginSuccess(ctx context.Context) (LoginSuccessResult, error) {
	var resp loginSuccessResponse
	if err := c.do(ctx, "login_success", http.MethodGet, pathLoginSuccess, nil, &resp); err != nil {
		return LoginSuccessResult{}, err
	}

	result := LoginSuccessResult{Message: c.sanitizer.Sanitize(resp.Message)}
	if resp.User != nil {
		result.Token = resp.User.Token
		result.Email = resp.User.Email
		result.Name = c.sanitizer.Sanitize(resp.User.Name)
	}
	return result, nil
}

// do はJSONリクエストを送信し、2xxの場合にレスポンスをoutへデコードする。
func (c *Client) do(ctx context.Context, endpoint, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", model.NewNetworkError("リクエストを作成できませんでした。"), err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordGatewayRequest(endpoint, 0, time.Since(start))
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("%w: %v", model.NewRequestCancelledError(), err)
		}
		c.logger.Error("認証APIの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", model.NewNetworkError("サーバーに接続できませんでした。"), err)
	}
	defer resp.Body.Close()
	c.metrics.RecordGatewayRequest(endpoint, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", model.NewNetworkError("サーバーの応答を読み取れませんでした。"), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := c.serverMessage(data)
		if reason == "" {
			reason = fmt.Sprintf("サーバーがステータス %d を返しました。", resp.StatusCode)
		}
		c.logger.Warn("認証APIがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.Int("http_status", resp.StatusCode),
		)
		return model.NewNetworkError(reason)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Error("認証APIのレスポンスのパースに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", model.NewNetworkError("サーバーの応答を解釈できませんでした。"), err)
	}
	return nil
}

// serverMessage はエラーレスポンスの{message}を取り出す。
func (c *Client) serverMessage(data []byte) string {
	var m messageResponse
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	return c.sanitizer.Sanitize(m.Message)
}

// compile-time interface check
var _ AuthGateway = (*Client)(nil)
