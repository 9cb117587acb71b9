// Package gateway は認証APIとの通信を提供する。
// 呼び出しは1回ずつ行い、自動リトライはしない。
package gateway

import "context"

// AuthGateway は認証APIのインターフェース。
// 失敗時はmodel.APIError（カテゴリnetwork）をラップしたエラーを返す。
type AuthGateway interface {
	// Login はメールアドレスとパスワードでログインする。
	// トークンが返らない場合は二段階認証（OTP）が必要。
	Login(ctx context.Context, email, password string) (LoginResult, error)
	// Register はユーザーを登録する。
	Register(ctx context.Context, name, email, password string) (RegisterResult, error)
	// SendOTP は電話番号宛てに確認コードを送信させる。
	SendOTP(ctx context.Context, phoneNumber string) (SendOTPResult, error)
	// VerifyOTP は確認コードを検証する。
	VerifyOTP(ctx context.Context, phoneNumber, otp string) (VerifyOTPResult, error)
	// LoginSuccess はブラウザで完了したサードパーティログインの結果を取得する。
	LoginSuccess(ctx context.Context) (LoginSuccessResult, error)
}

// LoginResult はPOST /user/loginの結果。
type LoginResult struct {
	Message string
	Token   string
}

// RegisterResult はPOST /user/registerの結果。
type RegisterResult struct {
	Success bool
	Message string
}

// SendOTPResult はPOST /api/otp/sendOTPの結果。
type SendOTPResult struct {
	Message string
}

// VerifyOTPResult はPOST /api/otp/verifyOTPの結果。
// Tokenはuser.tokenを平坦化したもの。
type VerifyOTPResult struct {
	Success bool
	Message string
	Token   string
}

// LoginSuccessResult はGET /login/successの結果。
type LoginSuccessResult struct {
	Message string
	Token   string
	Email   string
	Name    string
}
