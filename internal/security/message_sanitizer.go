// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MessageSanitizer は認証APIが返すメッセージを画面表示前に無害化する。
// サーバー由来の文字列はそのままUIやログに流れるため、
// bluemondayのStrictPolicyで全てのタグを除去してプレーンテキストにする。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxMessageRunes はサーバーメッセージとして保持する最大文字数。
const maxMessageRunes = 500

// MessageSanitizerService はサーバーメッセージの無害化機能のインターフェースを定義する。
type MessageSanitizerService interface {
	// Sanitize はタグを除去し、前後の空白を取り除いたテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// messageSanitizer はMessageSanitizerServiceの実装。
type messageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerServiceの新しいインスタンスを生成する。
func NewMessageSanitizer() *messageSanitizer {
	return &messageSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// StrictPolicyはエンティティをエスケープするため、表示用に戻してから整形する。
func (s *messageSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > maxMessageRunes {
		runes := []rune(text)
		text = string(runes[:maxMessageRunes])
	}
	return text
}
