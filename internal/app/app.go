package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/tenantdesk/internal/auth"
	"github.com/hitoshi/tenantdesk/internal/config"
	"github.com/hitoshi/tenantdesk/internal/credential"
	"github.com/hitoshi/tenantdesk/internal/database"
	"github.com/hitoshi/tenantdesk/internal/gateway"
	"github.com/hitoshi/tenantdesk/internal/handler"
	"github.com/hitoshi/tenantdesk/internal/logger"
	"github.com/hitoshi/tenantdesk/internal/metrics"
	"github.com/hitoshi/tenantdesk/internal/middleware"
	"github.com/hitoshi/tenantdesk/internal/navigation"
	"github.com/hitoshi/tenantdesk/internal/otp"
	"github.com/hitoshi/tenantdesk/internal/repository"
	"github.com/hitoshi/tenantdesk/internal/security"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// IO はCLIの入出力先。
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。ctxがキャンセルされるとサーバーや入力待ちを終了する。
func Run(ctx context.Context, args []string, stdio IO) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8090"
		}
		return runHealthcheck(ctx, port)
	}

	cfg, err := Init(stdio.Stderr)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("api_base_url", cfg.APIBaseURL),
	)

	if cmd == CommandMigrate {
		return runMigrate(cfg, stdio.Stdout)
	}

	c, err := newCore(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	flags := commandArgs(args)
	switch cmd {
	case CommandStatus:
		return runStatus(c, stdio)
	case CommandLogin:
		return runLogin(ctx, c, flags, stdio)
	case CommandOTP:
		return runOTPCommand(ctx, c, flags, stdio)
	case CommandRegister:
		return runRegister(ctx, c, flags, stdio)
	case CommandLogout:
		return runLogout(ctx, c, stdio)
	case CommandThirdParty:
		return runThirdParty(ctx, c, stdio)
	default:
		return runServe(ctx, cfg, c)
	}
}

// core はセッション中核のコンポーネント一式。
// 1プロセスに1つだけ生成し、CLIとブリッジで共有する。
type core struct {
	controller *auth.Controller
	login      *auth.LoginService
	flow       *otp.Flow
	gate       *navigation.Gate
	validator  *credential.Validator
	registry   *prometheus.Registry
	closers    []func() error
}

// newCore は設定から依存関係をワイヤリングし、永続化された状態を復元する。
func newCore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*core, error) {
	c := &core{registry: prometheus.NewRegistry()}
	collector := metrics.NewCollector(c.registry)

	// 1. セッションストア
	store, err := c.openStore(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	// 2. 認証APIクライアント
	if err := security.ValidateBaseURL(cfg.APIBaseURL, cfg.StrictTransport); err != nil {
		c.Close()
		return nil, fmt.Errorf("invalid API_BASE_URL: %w", err)
	}
	httpClient, err := security.NewGatewayHTTPClient(cfg.RequestTimeout, cfg.StrictTransport)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to build http client: %w", err)
	}
	gw := gateway.NewClient(httpClient, cfg.APIBaseURL, security.NewMessageSanitizer(), collector, log)

	// 3. セッション中核
	c.controller = auth.NewController(store, collector, log)
	c.validator = credential.NewValidator()
	c.login = auth.NewLoginService(gw, c.controller, c.validator, collector, log)
	c.flow = otp.NewFlow(gw, c.controller, otp.Config{
		ResendCooldown: cfg.OTPResendCooldown,
		MaxAttempts:    cfg.OTPMaxAttempts,
	}, collector, log)
	c.gate = navigation.NewGate(c.controller)

	// 4. 起動時の復元（失敗時は未ログインとして続行する）
	c.controller.Restore(ctx)

	return c, nil
}

// openStore はSTORE_DRIVERに応じたセッションストアを開く。
func (c *core) openStore(ctx context.Context, cfg *config.Config) (repository.SessionStore, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db.Close)
		return repository.NewPostgresSessionStore(db, cfg.DeviceID), nil

	case config.StoreDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		c.closers = append(c.closers, client.Close)
		// 接続できなくても起動は続ける。復元時の読み取りが失敗し未ログインとして扱われる
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Warn("redis unreachable, continuing without a restored session",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
		} else {
			slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
		}
		return repository.NewRedisSessionStore(client, cfg.RedisKeyPrefix, cfg.DeviceID), nil

	default:
		var sealer *repository.Sealer
		if cfg.SessionStoreKey != "" {
			s, err := repository.NewSealer(cfg.SessionStoreKey, cfg.DeviceID)
			if err != nil {
				return nil, fmt.Errorf("failed to create sealer: %w", err)
			}
			sealer = s
		}
		slog.Info("using file session store",
			slog.String("path", cfg.SessionStorePath),
			slog.Bool("sealed", sealer != nil),
		)
		return repository.NewFileSessionStore(cfg.SessionStorePath, sealer), nil
	}
}

// openDatabase はDB接続を開き、未適用のマイグレーションを適用する。
// 接続できない場合はマイグレーションを飛ばして接続を返す。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		slog.Warn("database unreachable, continuing without a restored session",
			slog.String("error", err.Error()),
		)
		return db, nil
	}
	slog.Info("database connection established")

	if err := database.RunMigrations(databaseURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

// Close は開いた接続をすべて閉じる。
func (c *core) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// runServe はローカルブリッジAPIを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, c *core) error {
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitOTP),
		slog.Default(),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Controller:        c.controller,
		LoginService:      c.login,
		Checker:           c.validator,
		Navigator:         c.gate,
		OTPFlow:           c.flow,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Gatherer:          c.registry,
	})

	unsubscribe := c.gate.OnChange(func(root navigation.Root) {
		slog.Info("navigation root changed", slog.String("root", string(root)))
	})
	defer unsubscribe()

	// ループバックのみで待ち受ける
	server := &http.Server{
		Addr:         "127.0.0.1:" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("bridge server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down bridge server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("bridge server stopped gracefully")
	return nil
}

// runMigrate はセッションストア用のデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, out io.Writer) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	fmt.Fprintf(out, "schema version %d (dirty=%t)\n", version, dirty)

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://127.0.0.1:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
