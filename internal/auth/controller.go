// Package auth は端末のセッション状態機械と、ログイン・登録の手順を提供する。
//
// Controllerはプロセスに1つだけ存在するSessionを所有する。
// 永続化キーはこのパッケージ内部の実装詳細で、他のパッケージからは参照しない。
package auth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/tenantdesk/internal/metrics"
	"github.com/hitoshi/tenantdesk/internal/model"
	"github.com/hitoshi/tenantdesk/internal/repository"
)

// SessionStoreのキー。既存の端末データとの互換のため綴りは変えない。
const (
	keyLoggedIn = "isLogedIn"
	keyToken    = "token"

	loggedInValue = "true"
)

// Controller はセッション状態（Unknown → Authenticated | Unauthenticated）を管理する。
// ストアへの書き込みはロックを保持したまま決められた順序で1つずつ行う。
type Controller struct {
	store   repository.SessionStore
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	mu        sync.Mutex
	session   model.Session
	restored  bool
	listeners map[int]func(model.Session)
	nextID    int
}

// NewController はUnknown状態のControllerを生成する。
func NewController(store repository.SessionStore, collector metrics.MetricsCollector, logger *slog.Logger) *Controller {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Controller{
		store:     store,
		metrics:   collector,
		logger:    logger,
		session:   model.Session{State: model.SessionUnknown},
		listeners: make(map[int]func(model.Session)),
	}
}

// Restore は起動時に永続化された状態を読み込む。
// Controllerの生存期間中に1回だけストアを読み、2回目以降は現在のSessionを返す。
// フラグが文字列"true"かつトークンが空でない場合のみAuthenticatedとし、
// 読み込みエラーを含むそれ以外は全てUnauthenticatedとする。
func (c *Controller) Restore(ctx context.Context) model.Session {
	c.mu.Lock()
	if c.restored {
		s := c.session
		c.mu.Unlock()
		return s
	}
	c.restored = true

	next := model.Session{State: model.SessionUnauthenticated}
	if token, ok := c.readPersisted(ctx); ok {
		next = model.Session{State: model.SessionAuthenticated, Token: token}
	}

	notify := c.transitionLocked(next)
	c.mu.Unlock()

	c.logger.Info("session restored", slog.String("state", string(next.State)))
	notify()
	return next
}

// readPersisted はフラグとトークンを読み、有効なトークンがあれば返す。
func (c *Controller) readPersisted(ctx context.Context) (string, bool) {
	flag, ok, err := c.store.Read(ctx, keyLoggedIn)
	if err != nil {
		c.storageFailed("read", err)
		return "", false
	}
	if !ok || flag != loggedInValue {
		return "", false
	}

	token, ok, err := c.store.Read(ctx, keyToken)
	if err != nil {
		c.storageFailed("read", err)
		return "", false
	}
	if !ok || token == "" {
		c.logger.Warn("login flag is set but token is missing")
		return "", false
	}
	return token, true
}

// Session は現在のSessionのコピーを返す。
func (c *Controller) Session() model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Token はログイン済みの場合にベアラートークンを返す。
func (c *Controller) Token() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.IsAuthenticated() {
		return "", false
	}
	return c.session.Token, true
}

// Promote はUnauthenticatedからAuthenticated(token)へ遷移する。
// トークン、フラグの順に書き込む。トークンの書き込みに失敗した場合はフラグを書かない。
// フラグの書き込みに失敗した場合はトークンの削除を試みる。どちらの場合も状態は変わらない。
func (c *Controller) Promote(ctx context.Context, token string) error {
	c.mu.Lock()

	switch c.session.State {
	case model.SessionUnknown:
		c.mu.Unlock()
		return model.NewSessionNotRestoredError()
	case model.SessionAuthenticated:
		c.mu.Unlock()
		return model.NewAlreadyAuthenticatedError()
	}
	if token == "" {
		c.mu.Unlock()
		return model.NewServerRejectedError("サーバーからトークンが返されませんでした。")
	}

	if err := c.store.Write(ctx, keyToken, token); err != nil {
		c.mu.Unlock()
		c.storageFailed("write", err)
		return err
	}
	if err := c.store.Write(ctx, keyLoggedIn, loggedInValue); err != nil {
		if rmErr := c.store.Remove(ctx, keyToken); rmErr != nil {
			c.storageFailed("remove", rmErr)
		}
		c.mu.Unlock()
		c.storageFailed("write", err)
		return err
	}

	notify := c.transitionLocked(model.Session{State: model.SessionAuthenticated, Token: token})
	c.mu.Unlock()

	c.logger.Info("session promoted")
	notify()
	return nil
}

// SignOut はフラグ、トークンの順に削除してUnauthenticatedへ遷移する。
// フラグの削除に失敗した場合はトークンを残す（フラグだけが残る状態を作らない）。
// 削除の失敗はログとメトリクスに記録するだけで、結果は常にUnauthenticatedになる。冪等。
func (c *Controller) SignOut(ctx context.Context) model.Session {
	c.mu.Lock()

	if err := c.store.Remove(ctx, keyLoggedIn); err != nil {
		c.storageFailed("remove", err)
	} else if err := c.store.Remove(ctx, keyToken); err != nil {
		c.storageFailed("remove", err)
	}

	c.restored = true
	next := model.Session{State: model.SessionUnauthenticated}
	notify := c.transitionLocked(next)
	c.mu.Unlock()

	c.logger.Info("session signed out")
	notify()
	return next
}

// Subscribe は状態が変わるたびに新しいSessionで同期的に呼ばれるリスナーを登録する。
// 戻り値の関数で登録を解除する。
func (c *Controller) Subscribe(fn func(model.Session)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// transitionLocked はc.muを保持した状態で呼ぶ。
// 状態が変わった場合はリスナーへの通知関数を返す。通知はロック解放後に呼び出すこと。
func (c *Controller) transitionLocked(next model.Session) func() {
	if c.session == next {
		return func() {}
	}
	c.session = next
	c.metrics.RecordSessionTransition(string(next.State))

	fns := make([]func(model.Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(next)
		}
	}
}

func (c *Controller) storageFailed(op string, err error) {
	c.metrics.RecordStorageError(op)
	c.logger.Error("session store operation failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}
