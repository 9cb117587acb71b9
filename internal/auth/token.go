package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo はベアラートークンから読み取った表示用の情報。
type TokenInfo struct {
	Subject   string
	ExpiresAt time.Time // ゼロ値は有効期限なし
}

// Expired はnow時点で有効期限を過ぎているかを返す。
func (i TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// InspectToken はJWT形式のトークンのクレームを署名検証なしで読み取る。
// 署名鍵はサーバーだけが持つため、結果は表示用であり認可の判断には使わない。
func InspectToken(token string) (TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("failed to parse token: %w", err)
	}

	var info TokenInfo
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return TokenInfo{}, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}
