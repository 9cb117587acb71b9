// Package otp は電話番号の確認コードによるログイン手順を提供する。
//
// 状態はIdle → Sending → CodeSent → Verifying → Verified → Idleと進む。
// Sending/Verifying中の再送信は拒否し、Abandon後に届いた応答は破棄する。
package otp

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/tenantdesk/internal/gateway"
	"github.com/hitoshi/tenantdesk/internal/logger"
	"github.com/hitoshi/tenantdesk/internal/metrics"
	"github.com/hitoshi/tenantdesk/internal/model"
)

const (
	// maxPhoneLength は電話番号入力欄の最大文字数。
	maxPhoneLength = 15
	codeLength     = 6
)

// Promoter は検証済みトークンでセッションを昇格する。auth.Controllerが実装する。
type Promoter interface {
	Promote(ctx context.Context, token string) error
}

// Config はFlowの再送・試行回数のポリシー。
type Config struct {
	// ResendCooldown は送信成功から次の送信までの最短間隔。0で無効。
	ResendCooldown time.Duration
	// MaxAttempts は1回のチャレンジで拒否される確認コードの上限。0で無制限。
	MaxAttempts int
	// Clock はテスト用に現在時刻を差し替える。nilの場合はtime.Now。
	Clock func() time.Time
}

// Flow は1つの確認コードのチャレンジを進める状態機械。
// ゲートウェイの呼び出しはロックの外で行う。
type Flow struct {
	gateway  gateway.AuthGateway
	promoter Promoter
	cfg      Config
	limiter  *rate.Limiter
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	challenge model.OtpChallenge
	epoch     uint64
}

// NewFlow はIdle状態のFlowを生成する。
func NewFlow(gw gateway.AuthGateway, promoter Promoter, cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) *Flow {
	if collector == nil {
		collector = metrics.Nop{}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	f := &Flow{
		gateway:   gw,
		promoter:  promoter,
		cfg:       cfg,
		metrics:   collector,
		logger:    logger,
		now:       now,
		challenge: model.OtpChallenge{Status: model.OtpIdle},
	}
	if cfg.ResendCooldown > 0 {
		f.limiter = rate.NewLimiter(rate.Every(cfg.ResendCooldown), 1)
	}
	return f
}

// Challenge は現在のチャレンジのスナップショットを返す。
func (f *Flow) Challenge() model.OtpChallenge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.challenge
}

// SubmitPhone は電話番号宛てに確認コードを送信する。
// 再送の場合も新しいチャレンジとして試行回数を0に戻す。
func (f *Flow) SubmitPhone(ctx context.Context, phone string) (model.OtpChallenge, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return f.Challenge(), model.NewInvalidPhoneError("未入力です")
	}
	if utf8.RuneCountInString(phone) > maxPhoneLength {
		return f.Challenge(), model.NewInvalidPhoneError("15文字を超えています")
	}

	f.mu.Lock()
	if f.busyLocked() {
		snapshot := f.challenge
		f.mu.Unlock()
		return snapshot, model.NewRequestInFlightError()
	}

	reservedAt := f.now()
	var reservation *rate.Reservation
	if f.limiter != nil {
		reservation = f.limiter.ReserveN(reservedAt, 1)
		if delay := reservation.DelayFrom(reservedAt); delay > 0 {
			reservation.CancelAt(reservedAt)
			snapshot := f.challenge
			f.mu.Unlock()
			f.metrics.RecordOTPSend("cooldown")
			return snapshot, model.NewResendCooldownError(int(math.Ceil(delay.Seconds())))
		}
	}
	// 送信が成功しなかった場合は再送間隔を消費しない
	release := func() {
		if reservation != nil {
			reservation.CancelAt(reservedAt)
		}
	}

	f.challenge = model.OtpChallenge{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		Status:      model.OtpSending,
	}
	epoch := f.epoch
	id := f.challenge.ID
	f.mu.Unlock()

	f.logger.Info("sending otp",
		slog.String("challenge_id", id),
		slog.String("phone", logger.MaskPhone(phone)),
	)
	res, err := f.gateway.SendOTP(ctx, phone)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.epoch != epoch {
		release()
		f.metrics.RecordOTPSend("stale")
		return f.challenge, model.NewRequestCancelledError()
	}
	if err != nil {
		release()
		f.challenge = model.OtpChallenge{Status: model.OtpIdle}
		f.metrics.RecordOTPSend("error")
		f.logger.Warn("otp send failed",
			slog.String("challenge_id", id),
			slog.String("error", err.Error()),
		)
		return f.challenge, err
	}

	f.challenge.Status = model.OtpCodeSent
	f.challenge.SentAt = f.now()
	f.challenge.Message = res.Message
	f.metrics.RecordOTPSend("sent")
	return f.challenge, nil
}

// SubmitCode は確認コードを検証し、成功した場合はセッションを昇格する。
// コードは半角数字6桁のみ受け付け、それ以外はネットワークを呼ばずに拒否する。
func (f *Flow) SubmitCode(ctx context.Context, code string) (model.OtpChallenge, error) {
	f.mu.Lock()
	switch {
	case f.busyLocked():
		snapshot := f.challenge
		f.mu.Unlock()
		return snapshot, model.NewRequestInFlightError()
	case f.challenge.Status == model.OtpFailed:
		snapshot := f.challenge
		f.mu.Unlock()
		return snapshot, model.NewOTPAttemptsExceededError(f.cfg.MaxAttempts)
	case f.challenge.Status != model.OtpCodeSent:
		snapshot := f.challenge
		f.mu.Unlock()
		return snapshot, model.NewNoActiveChallengeError()
	}
	if !isCode(code) {
		snapshot := f.challenge
		f.mu.Unlock()
		return snapshot, model.NewInvalidOTPError()
	}

	f.challenge.Status = model.OtpVerifying
	epoch := f.epoch
	phone := f.challenge.PhoneNumber
	id := f.challenge.ID
	f.mu.Unlock()

	res, err := f.gateway.VerifyOTP(ctx, phone, code)

	f.mu.Lock()
	if f.epoch != epoch {
		snapshot := f.challenge
		f.mu.Unlock()
		f.metrics.RecordOTPVerify("stale")
		return snapshot, model.NewRequestCancelledError()
	}
	if err != nil {
		f.challenge.Status = model.OtpCodeSent
		snapshot := f.challenge
		f.mu.Unlock()
		f.metrics.RecordOTPVerify("error")
		return snapshot, err
	}
	if !res.Success || res.Token == "" {
		rejected := f.rejectLocked(res.Message)
		snapshot := f.challenge
		f.mu.Unlock()
		f.metrics.RecordOTPVerify("rejected")
		f.logger.Info("otp rejected",
			slog.String("challenge_id", id),
			slog.Int("attempts", snapshot.Attempts),
		)
		return snapshot, rejected
	}

	f.challenge.Status = model.OtpVerified
	f.challenge.Message = res.Message
	verified := f.challenge
	f.mu.Unlock()

	// 応答が届いた時点で有効だったチャレンジは、その後のAbandonに関係なく昇格する
	if err := f.promoter.Promote(ctx, res.Token); err != nil {
		f.mu.Lock()
		if f.epoch == epoch {
			f.challenge.Status = model.OtpCodeSent
		}
		snapshot := f.challenge
		f.mu.Unlock()
		f.metrics.RecordOTPVerify("promote_failed")
		f.metrics.RecordLoginAttempt("otp", "error")
		return snapshot, err
	}

	f.mu.Lock()
	if f.epoch == epoch {
		f.challenge = model.OtpChallenge{Status: model.OtpIdle}
	}
	f.mu.Unlock()

	f.metrics.RecordOTPVerify("verified")
	f.metrics.RecordLoginAttempt("otp", "authenticated")
	f.logger.Info("otp verified", slog.String("challenge_id", id))
	return verified, nil
}

// Abandon は画面遷移などでチャレンジを破棄してIdleに戻す。
// 実行中のリクエストの応答は破棄される。再送間隔はリセットしない。
func (f *Flow) Abandon() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.epoch++
	f.challenge = model.OtpChallenge{Status: model.OtpIdle}
}

// busyLocked はゲートウェイ呼び出しまたは昇格の完了待ちかを返す。
func (f *Flow) busyLocked() bool {
	return f.challenge.Status.InFlight() || f.challenge.Status == model.OtpVerified
}

// rejectLocked は拒否された確認コードを数え、上限に達した場合はFailedにする。
func (f *Flow) rejectLocked(message string) error {
	f.challenge.Attempts++
	f.challenge.Message = message

	if f.cfg.MaxAttempts > 0 && f.challenge.Attempts >= f.cfg.MaxAttempts {
		f.challenge.Status = model.OtpFailed
		return model.NewOTPAttemptsExceededError(f.cfg.MaxAttempts)
	}

	f.challenge.Status = model.OtpCodeSent
	if message == "" {
		message = "確認コードが正しくありません。"
	}
	return model.NewServerRejectedError(message)
}

func isCode(s string) bool {
	if len(s) != codeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
