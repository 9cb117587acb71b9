// Package navigation はセッション状態から表示するルート画面を決める。
package navigation

import "github.com/hitoshi/tenantdesk/internal/model"

// Root はマウントするルート画面。
type Root string

const (
	RootSplash        Root = "splash"
	RootAuthenticated Root = "authenticated"
	RootPublic        Root = "public"
)

// Select はセッション状態に対応するルートを返す。副作用はない。
func Select(state model.SessionState) Root {
	switch state {
	case model.SessionAuthenticated:
		return RootAuthenticated
	case model.SessionUnauthenticated:
		return RootPublic
	default:
		return RootSplash
	}
}

// SessionSource はGateが参照するセッションの提供元。auth.Controllerが実装する。
type SessionSource interface {
	Session() model.Session
	Subscribe(fn func(model.Session)) (unsubscribe func())
}

// Gate はセッション状態から導出されるルートの読み取り専用ビュー。
// 判定結果はキャッシュせず、呼び出しのたびに現在の状態から計算する。
type Gate struct {
	source SessionSource
}

// NewGate はGateを生成する。
func NewGate(source SessionSource) *Gate {
	return &Gate{source: source}
}

// Current は現在のルートを返す。
func (g *Gate) Current() Root {
	return Select(g.source.Session().State)
}

// OnChange はセッション状態が変わるたびに新しいルートでfnを同期的に呼ぶ。
func (g *Gate) OnChange(fn func(Root)) (unsubscribe func()) {
	return g.source.Subscribe(func(s model.Session) {
		fn(Select(s.State))
	})
}
