package model

import "time"

// OtpStatus は電話番号確認チャレンジの状態を表す。
type OtpStatus string

const (
	OtpIdle      OtpStatus = "idle"
	OtpSending   OtpStatus = "sending"
	OtpCodeSent  OtpStatus = "code_sent"
	OtpVerifying OtpStatus = "verifying"
	OtpVerified  OtpStatus = "verified"
	OtpFailed    OtpStatus = "failed"
)

// InFlight はゲートウェイ呼び出しの完了待ちであるかを返す。
func (s OtpStatus) InFlight() bool {
	return s == OtpSending || s == OtpVerifying
}

// OtpChallenge は1回分の電話番号確認の試行を表す。
type OtpChallenge struct {
	ID          string // クライアント側で採番する試行ID
	PhoneNumber string
	Status      OtpStatus
	Attempts    int       // 拒否された確認コードの回数
	SentAt      time.Time // 最後に確認コードの送信に成功した時刻
	Message     string    // サーバーから返された最新のメッセージ（サニタイズ済み）
}
