package auth

import (
	"context"
	"log/slog"

	"github.com/hitoshi/tenantdesk/internal/credential"
	"github.com/hitoshi/tenantdesk/internal/gateway"
	"github.com/hitoshi/tenantdesk/internal/metrics"
	"github.com/hitoshi/tenantdesk/internal/model"
)

// ログイン方式（メトリクスのラベル）
const (
	MethodPassword   = "password"
	MethodOTP        = "otp"
	MethodThirdParty = "third_party"
)

// LoginOutcome はパスワードログインの結果。
// OtpRequiredの場合は電話番号の確認（otp.Flow）へ進む。
type LoginOutcome struct {
	Authenticated bool
	OtpRequired   bool
	Message       string
}

// LoginService はパスワードログイン、登録、サードパーティログインの完了を扱う。
// 入力検証に失敗した場合はネットワークを呼ばない。自動リトライはしない。
type LoginService struct {
	gateway    gateway.AuthGateway
	controller *Controller
	validator  *credential.Validator
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewLoginService はLoginServiceを生成する。
func NewLoginService(
	gw gateway.AuthGateway,
	controller *Controller,
	validator *credential.Validator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *LoginService {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &LoginService{
		gateway:    gw,
		controller: controller,
		validator:  validator,
		metrics:    collector,
		logger:     logger,
	}
}

// Login はメールアドレスとパスワードでログインする。
// レスポンスにトークンが含まれていればセッションを昇格し、
// 含まれていなければ二段階認証が必要として返す。
func (s *LoginService) Login(ctx context.Context, email, password string) (LoginOutcome, error) {
	if err := s.validator.ValidateLogin(email, password); err != nil {
		return LoginOutcome{}, err
	}
	if err := s.ensureUnauthenticated(); err != nil {
		return LoginOutcome{}, err
	}

	res, err := s.gateway.Login(ctx, email, password)
	if err != nil {
		s.metrics.RecordLoginAttempt(MethodPassword, "error")
		return LoginOutcome{}, err
	}

	if res.Token == "" {
		s.metrics.RecordLoginAttempt(MethodPassword, "otp_required")
		return LoginOutcome{OtpRequired: true, Message: res.Message}, nil
	}

	if err := s.controller.Promote(ctx, res.Token); err != nil {
		s.metrics.RecordLoginAttempt(MethodPassword, "error")
		return LoginOutcome{}, err
	}
	s.metrics.RecordLoginAttempt(MethodPassword, "authenticated")
	return LoginOutcome{Authenticated: true, Message: res.Message}, nil
}

// Register はユーザーを登録し、サーバーのメッセージを返す。
// 登録してもセッションは変わらない。
func (s *LoginService) Register(ctx context.Context, name, email, password string) (string, error) {
	if err := s.validator.ValidateRegistration(name, email, password); err != nil {
		return "", err
	}

	res, err := s.gateway.Register(ctx, name, email, password)
	if err != nil {
		return "", err
	}
	if !res.Success {
		reason := res.Message
		if reason == "" {
			reason = "登録できませんでした。"
		}
		return "", model.NewServerRejectedError(reason)
	}

	s.logger.Info("user registered")
	return res.Message, nil
}

// CompleteThirdPartyLogin はブラウザで完了したサードパーティログインの結果を取得し、
// トークンが返ればセッションを昇格する。
func (s *LoginService) CompleteThirdPartyLogin(ctx context.Context) error {
	if err := s.ensureUnauthenticated(); err != nil {
		return err
	}

	res, err := s.gateway.LoginSuccess(ctx)
	if err != nil {
		s.metrics.RecordLoginAttempt(MethodThirdParty, "error")
		return err
	}
	if res.Token == "" {
		s.metrics.RecordLoginAttempt(MethodThirdParty, "rejected")
		reason := res.Message
		if reason == "" {
			reason = "ログインが完了していません。"
		}
		return model.NewServerRejectedError(reason)
	}

	if err := s.controller.Promote(ctx, res.Token); err != nil {
		s.metrics.RecordLoginAttempt(MethodThirdParty, "error")
		return err
	}
	s.metrics.RecordLoginAttempt(MethodThirdParty, "authenticated")
	return nil
}

func (s *LoginService) ensureUnauthenticated() error {
	switch s.controller.Session().State {
	case model.SessionUnknown:
		return model.NewSessionNotRestoredError()
	case model.SessionAuthenticated:
		return model.NewAlreadyAuthenticatedError()
	}
	return nil
}
