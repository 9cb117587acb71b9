// Package model はドメインモデルを定義する。
package model

// SessionState は端末のログイン状態を表す。
type SessionState string

const (
	// SessionUnknown は起動直後、永続化された状態の読み込みが完了する前の状態。
	SessionUnknown SessionState = "unknown"
	// SessionAuthenticated はトークンを保持したログイン済みの状態。
	SessionAuthenticated SessionState = "authenticated"
	// SessionUnauthenticated は未ログインの状態。
	SessionUnauthenticated SessionState = "unauthenticated"
)

// Session は現在の端末の認証状態を表す。
// Tokenが空でないこととStateがSessionAuthenticatedであることは同値。
type Session struct {
	State SessionState
	Token string
}

// IsAuthenticated はログイン済みかを返す。
func (s Session) IsAuthenticated() bool {
	return s.State == SessionAuthenticated && s.Token != ""
}

// Credentials はログインフォームに入力された認証情報を表す。
// 永続化しない。
type Credentials struct {
	Email    string
	Password string
}
