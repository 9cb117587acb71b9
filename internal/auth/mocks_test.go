package auth

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/tenantdesk/internal/gateway"
	"github.com/hitoshi/tenantdesk/internal/model"
)

// --- モック定義 ---

// mockStore はメモリ上のSessionStore。各関数を差し替えると失敗を注入できる。
type mockStore struct {
	mu      sync.Mutex
	entries map[string]string
	ops     []string

	writeFn  func(ctx context.Context, key, value string) error
	readFn   func(ctx context.Context, key string) (string, bool, error)
	removeFn func(ctx context.Context, key string) error
}

func newMockStore() *mockStore {
	return &mockStore{entries: map[string]string{}}
}

func (m *mockStore) Write(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "write:"+key)
	if m.writeFn != nil {
		if err := m.writeFn(ctx, key, value); err != nil {
			return err
		}
	}
	m.entries[key] = value
	return nil
}

func (m *mockStore) Read(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "read:"+key)
	if m.readFn != nil {
		return m.readFn(ctx, key)
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *mockStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "remove:"+key)
	if m.removeFn != nil {
		if err := m.removeFn(ctx, key); err != nil {
			return err
		}
	}
	delete(m.entries, key)
	return nil
}

func (m *mockStore) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *mockStore) operations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

type mockGateway struct {
	loginFn        func(ctx context.Context, email, password string) (gateway.LoginResult, error)
	registerFn     func(ctx context.Context, name, email, password string) (gateway.RegisterResult, error)
	sendOTPFn      func(ctx context.Context, phone string) (gateway.SendOTPResult, error)
	verifyOTPFn    func(ctx context.Context, phone, otp string) (gateway.VerifyOTPResult, error)
	loginSuccessFn func(ctx context.Context) (gateway.LoginSuccessResult, error)

	calls int
}

func (m *mockGateway) Login(ctx context.Context, email, password string) (gateway.LoginResult, error) {
	m.calls++
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return gateway.LoginResult{}, nil
}

func (m *mockGateway) Register(ctx context.Context, name, email, password string) (gateway.RegisterResult, error) {
	m.calls++
	if m.registerFn != nil {
		return m.registerFn(ctx, name, email, password)
	}
	return gateway.RegisterResult{Success: true}, nil
}

func (m *mockGateway) SendOTP(ctx context.Context, phone string) (gateway.SendOTPResult, error) {
	m.calls++
	if m.sendOTPFn != nil {
		return m.sendOTPFn(ctx, phone)
	}
	return gateway.SendOTPResult{}, nil
}

func (m *mockGateway) VerifyOTP(ctx context.Context, phone, otp string) (gateway.VerifyOTPResult, error) {
	m.calls++
	if m.verifyOTPFn != nil {
		return m.verifyOTPFn(ctx, phone, otp)
	}
	return gateway.VerifyOTPResult{}, nil
}

func (m *mockGateway) LoginSuccess(ctx context.Context) (gateway.LoginSuccessResult, error) {
	m.calls++
	if m.loginSuccessFn != nil {
		return m.loginSuccessFn(ctx)
	}
	return gateway.LoginSuccessResult{}, nil
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func storageFailure(op string) error {
	return model.NewStorageError(op)
}
