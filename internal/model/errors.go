// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: network, validation, storage, server
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryNetwork    = "network"
	CategoryValidation = "validation"
	CategoryStorage    = "storage"
	CategoryServer     = "server"
)

// 定義済みエラーコード
const (
	ErrCodeNetwork              = "NETWORK_ERROR"
	ErrCodeRequestCancelled     = "REQUEST_CANCELLED"
	ErrCodeInvalidEmail         = "INVALID_EMAIL"
	ErrCodeInvalidPassword      = "INVALID_PASSWORD"
	ErrCodeInvalidName          = "INVALID_NAME"
	ErrCodeInvalidPhone         = "INVALID_PHONE"
	ErrCodeInvalidOTP           = "INVALID_OTP"
	ErrCodeRequestInFlight      = "REQUEST_IN_FLIGHT"
	ErrCodeNoActiveChallenge    = "NO_ACTIVE_CHALLENGE"
	ErrCodeResendCooldown       = "RESEND_COOLDOWN"
	ErrCodeAlreadyAuthenticated = "ALREADY_AUTHENTICATED"
	ErrCodeSessionNotRestored   = "SESSION_NOT_RESTORED"
	ErrCodeStorage              = "STORAGE_ERROR"
	ErrCodeServerRejected       = "SERVER_REJECTED"
	ErrCodeOTPAttemptsExceeded  = "OTP_ATTEMPTS_EXCEEDED"
)

// AsAPIError はerrチェーンからAPIErrorを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// HasCode はerrチェーンに指定コードのAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == code
}

// HasCategory はerrチェーンに指定カテゴリのAPIErrorが含まれるかを返す。
func HasCategory(err error, category string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Category == category
}

// NewNetworkError は認証APIの呼び出し失敗エラーを生成する。
// reasonにはサーバーが返したメッセージ、または通信エラーの概要を渡す。
func NewNetworkError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeNetwork,
		Message:  reason,
		Category: CategoryNetwork,
		Action:   "通信環境を確認し、もう一度お試しください。",
	}
}

// NewRequestCancelledError は画面遷移などでリクエストが破棄された場合のエラーを生成する。
func NewRequestCancelledError() *APIError {
	return &APIError{
		Code:     ErrCodeRequestCancelled,
		Message:  "リクエストは取り消されました。",
		Category: CategoryNetwork,
		Action:   "必要であれば最初からやり直してください。",
	}
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "メールアドレスの形式が正しくありません。",
		Category: CategoryValidation,
		Action:   "name@example.com の形式で入力してください。",
	}
}

// NewInvalidPasswordError はパスワード形式エラーを生成する。
func NewInvalidPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPassword,
		Message:  "パスワードの形式が正しくありません。",
		Category: CategoryValidation,
		Action:   "8〜20文字で、大文字・小文字・数字・記号(@$!%*?&)をそれぞれ1文字以上含めてください。",
	}
}

// NewInvalidNameError は氏名の入力エラーを生成する。
func NewInvalidNameError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidName,
		Message:  "名前が短すぎます。",
		Category: CategoryValidation,
		Action:   "2文字以上で入力してください。",
	}
}

// NewInvalidPhoneError は電話番号の入力エラーを生成する。
func NewInvalidPhoneError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPhone,
		Message:  fmt.Sprintf("電話番号が正しくありません: %s", reason),
		Category: CategoryValidation,
		Action:   "15文字以内の電話番号を入力してください。",
	}
}

// NewInvalidOTPError は確認コードの形式エラーを生成する。
func NewInvalidOTPError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOTP,
		Message:  "確認コードは6桁の数字です。",
		Category: CategoryValidation,
		Action:   "SMSで届いた6桁のコードを入力してください。",
	}
}

// NewRequestInFlightError は同一チャレンジへの多重送信エラーを生成する。
func NewRequestInFlightError() *APIError {
	return &APIError{
		Code:     ErrCodeRequestInFlight,
		Message:  "前のリクエストを処理中です。",
		Category: CategoryValidation,
		Action:   "処理が完了するまでお待ちください。",
	}
}

// NewNoActiveChallengeError は確認コード送信前にコードが入力された場合のエラーを生成する。
func NewNoActiveChallengeError() *APIError {
	return &APIError{
		Code:     ErrCodeNoActiveChallenge,
		Message:  "確認コードはまだ送信されていません。",
		Category: CategoryValidation,
		Action:   "電話番号を入力して確認コードを送信してください。",
	}
}

// NewResendCooldownError は再送間隔に達していない場合のエラーを生成する。
func NewResendCooldownError(retryAfterSec int) *APIError {
	return &APIError{
		Code:     ErrCodeResendCooldown,
		Message:  fmt.Sprintf("確認コードの再送まであと%d秒お待ちください。", retryAfterSec),
		Category: CategoryValidation,
		Action:   "時間をおいてから再送してください。",
	}
}

// NewAlreadyAuthenticatedError はログイン済みの状態で再ログインしようとした場合のエラーを生成する。
func NewAlreadyAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyAuthenticated,
		Message:  "すでにログインしています。",
		Category: CategoryValidation,
		Action:   "別のアカウントを使う場合はログアウトしてください。",
	}
}

// NewSessionNotRestoredError は起動時のセッション復元前に操作された場合のエラーを生成する。
func NewSessionNotRestoredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotRestored,
		Message:  "セッションを読み込み中です。",
		Category: CategoryValidation,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewStorageError は端末ストレージの読み書き失敗エラーを生成する。
func NewStorageError(op string) *APIError {
	return &APIError{
		Code:     ErrCodeStorage,
		Message:  fmt.Sprintf("ログイン情報の保存に失敗しました (%s)", op),
		Category: CategoryStorage,
		Action:   "端末の空き容量を確認し、もう一度ログインしてください。",
	}
}

// NewServerRejectedError はサーバーが処理を拒否した場合のエラーを生成する。
func NewServerRejectedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeServerRejected,
		Message:  reason,
		Category: CategoryServer,
		Action:   "入力内容を確認して、もう一度お試しください。",
	}
}

// NewOTPAttemptsExceededError は確認コードの誤り回数が上限に達した場合のエラーを生成する。
func NewOTPAttemptsExceededError(max int) *APIError {
	return &APIError{
		Code:     ErrCodeOTPAttemptsExceeded,
		Message:  fmt.Sprintf("確認コードの誤りが%d回に達しました。", max),
		Category: CategoryServer,
		Action:   "確認コードを再送してください。",
	}
}
