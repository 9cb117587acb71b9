package auth

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/hitoshi/tenantdesk/internal/model"
)

func newTestController(store *mockStore) *Controller {
	logger, _ := newTestLogger()
	return NewController(store, nil, logger)
}

func TestController_InitialStateIsUnknown(t *testing.T) {
	c := newTestController(newMockStore())

	if got := c.Session().State; got != model.SessionUnknown {
		t.Errorf("State = %s, want %s", got, model.SessionUnknown)
	}
	if _, ok := c.Token(); ok {
		t.Error("Token should not be available before restore")
	}
}

// TestController_Restore_EmptyStore は初回起動（ストアが空）でUnauthenticatedになることを検証する。
func TestController_Restore_EmptyStore(t *testing.T) {
	c := newTestController(newMockStore())

	got := c.Restore(context.Background())
	if got.State != model.SessionUnauthenticated || got.Token != "" {
		t.Errorf("Restore = %+v, want Unauthenticated", got)
	}
}

func TestController_Restore_PersistedSession(t *testing.T) {
	store := newMockStore()
	store.entries[keyLoggedIn] = "true"
	store.entries[keyToken] = "abc"
	c := newTestController(store)

	got := c.Restore(context.Background())
	if got.State != model.SessionAuthenticated || got.Token != "abc" {
		t.Errorf("Restore = %+v, want Authenticated(abc)", got)
	}
	token, ok := c.Token()
	if !ok || token != "abc" {
		t.Errorf("Token = %q %v, want abc true", token, ok)
	}
}

// TestController_Restore_FailsClosed はフラグが厳密に"true"でない場合や読み込みエラーでUnauthenticatedになることを検証する。
func TestController_Restore_FailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
		readErr error
	}{
		{name: "フラグがfalse", entries: map[string]string{keyLoggedIn: "false", keyToken: "abc"}},
		{name: "フラグが大文字のTRUE", entries: map[string]string{keyLoggedIn: "TRUE", keyToken: "abc"}},
		{name: "フラグが空文字", entries: map[string]string{keyLoggedIn: "", keyToken: "abc"}},
		{name: "フラグなしでトークンのみ", entries: map[string]string{keyToken: "abc"}},
		{name: "フラグありでトークンなし", entries: map[string]string{keyLoggedIn: "true"}},
		{name: "フラグありでトークンが空", entries: map[string]string{keyLoggedIn: "true", keyToken: ""}},
		{name: "読み込みエラー", entries: map[string]string{keyLoggedIn: "true", keyToken: "abc"}, readErr: storageFailure("read")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			for k, v := range tt.entries {
				store.entries[k] = v
			}
			if tt.readErr != nil {
				store.readFn = func(context.Context, string) (string, bool, error) {
					return "", false, tt.readErr
				}
			}
			c := newTestController(store)

			got := c.Restore(context.Background())
			if got.State != model.SessionUnauthenticated {
				t.Errorf("State = %s, want %s", got.State, model.SessionUnauthenticated)
			}
			if got.Token != "" {
				t.Errorf("Token = %q, want empty", got.Token)
			}
		})
	}
}

func TestController_Restore_OnlyOnce(t *testing.T) {
	store := newMockStore()
	c := newTestController(store)

	c.Restore(context.Background())
	reads := len(store.operations())

	store.entries[keyLoggedIn] = "true"
	store.entries[keyToken] = "abc"
	got := c.Restore(context.Background())

	if got.State != model.SessionUnauthenticated {
		t.Errorf("second Restore changed state to %s", got.State)
	}
	if len(store.operations()) != reads {
		t.Errorf("second Restore touched the store: %v", store.operations())
	}
}

// TestController_Promote_WritesTokenBeforeFlag はトークン、フラグの順に書き込むことを検証する。
func TestController_Promote_WritesTokenBeforeFlag(t *testing.T) {
	store := newMockStore()
	c := newTestController(store)
	c.Restore(context.Background())

	if err := c.Promote(context.Background(), "abc"); err != nil {
		t.Fatalf("Promote returned error: %v", err)
	}

	var writes []string
	for _, op := range store.operations() {
		if strings.HasPrefix(op, "write:") {
			writes = append(writes, op)
		}
	}
	want := []string{"write:token", "write:isLogedIn"}
	if !reflect.DeepEqual(writes, want) {
		t.Errorf("writes = %v, want %v", writes, want)
	}

	if v, _ := store.get(keyLoggedIn); v != "true" {
		t.Errorf("isLogedIn = %q, want true", v)
	}
	if v, _ := store.get(keyToken); v != "abc" {
		t.Errorf("token = %q, want abc", v)
	}
	if s := c.Session(); s.State != model.SessionAuthenticated || s.Token != "abc" {
		t.Errorf("Session = %+v, want Authenticated(abc)", s)
	}
}

func TestController_Promote_TokenWriteFails(t *testing.T) {
	store := newMockStore()
	store.writeFn = func(_ context.Context, key, _ string) error {
		if key == keyToken {
			return storageFailure("write")
		}
		return nil
	}
	c := newTestController(store)
	c.Restore(context.Background())

	err := c.Promote(context.Background(), "abc")
	if !model.HasCode(err, model.ErrCodeStorage) {
		t.Fatalf("expected STORAGE_ERROR, got %v", err)
	}
	if _, ok := store.get(keyLoggedIn); ok {
		t.Error("flag must not be written when the token write fails")
	}
	if s := c.Session(); s.State != model.SessionUnauthenticated {
		t.Errorf("State = %s, want unchanged Unauthenticated", s.State)
	}
}

func TestController_Promote_FlagWriteFailsRemovesToken(t *testing.T) {
	store := newMockStore()
	store.writeFn = func(_ context.Context, key, _ string) error {
		if key == keyLoggedIn {
			return storageFailure("write")
		}
		return nil
	}
	c := newTestController(store)
	c.Restore(context.Background())

	err := c.Promote(context.Background(), "abc")
	if !model.HasCode(err, model.ErrCodeStorage) {
		t.Fatalf("expected STORAGE_ERROR, got %v", err)
	}
	if _, ok := store.get(keyToken); ok {
		t.Error("token should be removed after the flag write fails")
	}
	if s := c.Session(); s.State != model.SessionUnauthenticated {
		t.Errorf("State = %s, want unchanged Unauthenticated", s.State)
	}
}

func TestController_Promote_Preconditions(t *testing.T) {
	t.Run("復元前は拒否", func(t *testing.T) {
		c := newTestController(newMockStore())
		err := c.Promote(context.Background(), "abc")
		if !model.HasCode(err, model.ErrCodeSessionNotRestored) {
			t.Errorf("expected SESSION_NOT_RESTORED, got %v", err)
		}
	})

	t.Run("空のトークンは拒否", func(t *testing.T) {
		store := newMockStore()
		c := newTestController(store)
		c.Restore(context.Background())

		err := c.Promote(context.Background(), "")
		if !model.HasCategory(err, model.CategoryServer) {
			t.Errorf("expected server rejection, got %v", err)
		}
		if _, ok := store.get(keyToken); ok {
			t.Error("empty token must not be written")
		}
	})

	t.Run("ログイン済みは拒否", func(t *testing.T) {
		store := newMockStore()
		c := newTestController(store)
		c.Restore(context.Background())
		if err := c.Promote(context.Background(), "abc"); err != nil {
			t.Fatalf("first Promote failed: %v", err)
		}

		err := c.Promote(context.Background(), "other")
		if !model.HasCode(err, model.ErrCodeAlreadyAuthenticated) {
			t.Errorf("expected ALREADY_AUTHENTICATED, got %v", err)
		}
		if v, _ := store.get(keyToken); v != "abc" {
			t.Errorf("token = %q, want abc", v)
		}
	})
}

// TestController_SignOut_RemovesFlagFirst はフラグ、トークンの順に削除することを検証する。
func TestController_SignOut_RemovesFlagFirst(t *testing.T) {
	store := newMockStore()
	store.entries[keyLoggedIn] = "true"
	store.entries[keyToken] = "abc"
	c := newTestController(store)
	c.Restore(context.Background())

	got := c.SignOut(context.Background())
	if got.State != model.SessionUnauthenticated {
		t.Errorf("State = %s, want Unauthenticated", got.State)
	}

	var removes []string
	for _, op := range store.operations() {
		if strings.HasPrefix(op, "remove:") {
			removes = append(removes, op)
		}
	}
	want := []string{"remove:isLogedIn", "remove:token"}
	if !reflect.DeepEqual(removes, want) {
		t.Errorf("removes = %v, want %v", removes, want)
	}
	if len(store.entries) != 0 {
		t.Errorf("store entries = %v, want empty", store.entries)
	}
}

// TestController_SignOut_SecondaryRemoveFails はトークンの削除に失敗してもUnauthenticatedになることを検証する。
func TestController_SignOut_SecondaryRemoveFails(t *testing.T) {
	store := newMockStore()
	store.entries[keyLoggedIn] = "true"
	store.entries[keyToken] = "abc"
	store.removeFn = func(_ context.Context, key string) error {
		if key == keyToken {
			return errors.New("disk full")
		}
		return nil
	}
	c := newTestController(store)
	c.Restore(context.Background())

	var roots []model.SessionState
	c.Subscribe(func(s model.Session) { roots = append(roots, s.State) })

	got := c.SignOut(context.Background())
	if got.State != model.SessionUnauthenticated {
		t.Errorf("State = %s, want Unauthenticated", got.State)
	}
	if _, ok := store.get(keyLoggedIn); ok {
		t.Error("isLogedIn should be removed")
	}
	if !reflect.DeepEqual(roots, []model.SessionState{model.SessionUnauthenticated}) {
		t.Errorf("listener states = %v", roots)
	}

	// 次回起動時もフラグがないためUnauthenticatedになる
	next := newTestController(store)
	store.removeFn = nil
	if s := next.Restore(context.Background()); s.State != model.SessionUnauthenticated {
		t.Errorf("restored State = %s, want Unauthenticated", s.State)
	}
}

// TestController_SignOut_FlagRemoveFailsKeepsToken はフラグの削除に失敗した場合にトークンを削除しないことを検証する。
func TestController_SignOut_FlagRemoveFailsKeepsToken(t *testing.T) {
	store := newMockStore()
	store.entries[keyLoggedIn] = "true"
	store.entries[keyToken] = "abc"
	store.removeFn = func(_ context.Context, key string) error {
		if key == keyLoggedIn {
			return errors.New("disk full")
		}
		return nil
	}
	c := newTestController(store)
	c.Restore(context.Background())

	got := c.SignOut(context.Background())
	if got.State != model.SessionUnauthenticated {
		t.Errorf("State = %s, want Unauthenticated", got.State)
	}
	if c.Session().State != model.SessionUnauthenticated {
		t.Errorf("Session().State = %s, want Unauthenticated", c.Session().State)
	}

	// フラグが"true"のままトークンだけが消える状態にはならない
	flag, flagOK := store.get(keyLoggedIn)
	token, tokenOK := store.get(keyToken)
	if flagOK && flag == "true" && !tokenOK {
		t.Fatal("persisted state has flag=true and no token")
	}
	if !tokenOK || token != "abc" {
		t.Errorf("token = %q (present=%v), want abc kept", token, tokenOK)
	}
	for _, op := range store.operations() {
		if op == "remove:"+keyToken {
			t.Errorf("token must not be removed after the flag removal failed, ops = %v", store.operations())
		}
	}
}

func TestController_SignOut_Idempotent(t *testing.T) {
	c := newTestController(newMockStore())
	c.Restore(context.Background())

	calls := 0
	c.Subscribe(func(model.Session) { calls++ })

	first := c.SignOut(context.Background())
	second := c.SignOut(context.Background())
	if first != second {
		t.Errorf("SignOut results differ: %+v vs %+v", first, second)
	}
	if calls != 0 {
		t.Errorf("listeners called %d times, want 0 when state does not change", calls)
	}
}

func TestController_Subscribe_NotifiesSynchronously(t *testing.T) {
	c := newTestController(newMockStore())

	var got []model.Session
	unsubscribe := c.Subscribe(func(s model.Session) {
		got = append(got, s)
	})

	c.Restore(context.Background())
	if err := c.Promote(context.Background(), "abc"); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}

	want := []model.Session{
		{State: model.SessionUnauthenticated},
		{State: model.SessionAuthenticated, Token: "abc"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("notifications = %+v, want %+v", got, want)
	}

	unsubscribe()
	c.SignOut(context.Background())
	if len(got) != 2 {
		t.Errorf("listener called after unsubscribe: %+v", got)
	}
}

// TestController_Subscribe_ListenerCanReadSession はリスナー内からSessionを参照してもデッドロックしないことを検証する。
func TestController_Subscribe_ListenerCanReadSession(t *testing.T) {
	c := newTestController(newMockStore())

	var seen model.SessionState
	c.Subscribe(func(model.Session) {
		seen = c.Session().State
	})

	c.Restore(context.Background())
	if seen != model.SessionUnauthenticated {
		t.Errorf("seen = %s, want Unauthenticated", seen)
	}
}

func TestController_NeverLogsToken(t *testing.T) {
	logger, buf := newTestLogger()
	c := NewController(newMockStore(), nil, logger)
	c.Restore(context.Background())

	if err := c.Promote(context.Background(), "secret-token-value"); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	c.SignOut(context.Background())

	if strings.Contains(buf.String(), "secret-token-value") {
		t.Error("token must not appear in logs")
	}
}
