package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/twogether/internal/account"
	"github.com/hitoshi/twogether/internal/auth"
	"github.com/hitoshi/twogether/internal/config"
	"github.com/hitoshi/twogether/internal/couple"
	"github.com/hitoshi/twogether/internal/database"
	"github.com/hitoshi/twogether/internal/handler"
	"github.com/hitoshi/twogether/internal/logger"
	"github.com/hitoshi/twogether/internal/metrics"
	"github.com/hitoshi/twogether/internal/middleware"
	"github.com/hitoshi/twogether/internal/partner"
	"github.com/hitoshi/twogether/internal/repository"
	"github.com/hitoshi/twogether/internal/security"
	"github.com/hitoshi/twogether/internal/telemetry"
	"github.com/hitoshi/twogether/internal/worker/repair"
)

const serviceName = "twogether"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if !cmd.RequiresConfig() {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandRepair:
		return runRepair(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, database.Dialect, error) {
	db, dialect, err := database.Open(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established", slog.String("dialect", string(dialect)))
	return db, dialect, nil
}

// newRegistry はGoランタイムとプロセスのコレクターを登録したレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newAPIHandler はリポジトリ・サービス・ルーターをワイヤリングしたHTTPハンドラーを返す。
// 戻り値のRateLimiterはサーバー停止時にStopする。
func newAPIHandler(cfg *config.Config, db *sql.DB, dialect database.Dialect, verifier auth.TokenVerifier, reg *prometheus.Registry) (http.Handler, *middleware.RateLimiter) {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリの初期化
	userRepo := repository.NewSQLUserRepo(db, dialect)
	coupleRepo := repository.NewSQLCoupleRepo(db, dialect)
	goalRepo := repository.NewSQLGoalRepo(db, dialect)
	moodRepo := repository.NewSQLMoodRepo(db, dialect)
	txStore := repository.NewSQLTxStore(db, dialect)

	// 2. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	// 3. ドメインサービスの初期化
	provisioner := account.NewProvisioner(userRepo, sanitizer, ssrfGuard, collector)
	linker := partner.NewLinker(txStore, collector)
	coupleService := couple.NewService(userRepo, coupleRepo, goalRepo, moodRepo, sanitizer)

	// 4. ルーターの構築
	limiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLink),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Verifier:          verifier,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		RequestTimeout:    cfg.RequestTimeout,
		Logger:            slog.Default(),
		Metrics:           collector,
		DB:                db,
		MetricsHandler:    metrics.Handler(reg),

		AccountService: provisioner,
		PartnerLinker:  linker,
		CoupleService:  coupleService,
	})

	return router, limiter
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, serviceName, telemetry.Config{
		Enabled:  cfg.OTelEnabled,
		Endpoint: cfg.OTelExporterEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer flushTracing(shutdownTracing)

	db, dialect, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// JWKSの取得はSSRF対策済みクライアントで行う
	verifier, err := auth.NewVerifier(ctx, auth.VerifierConfig{
		ProjectID:       cfg.AuthProjectID,
		Issuer:          cfg.AuthIssuer,
		JWKSURL:         cfg.AuthJWKSURL,
		RefreshInterval: cfg.AuthJWKSRefreshInterval,
		HTTPClient:      security.NewSSRFGuard().NewSafeClient(10 * time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token verifier: %w", err)
	}
	defer verifier.Close()

	router, limiter := newAPIHandler(cfg, db, dialect, verifier, newRegistry())
	defer limiter.Stop()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// runWorker はワーカーモードで起動する。
// 起動直後と REPAIR_INTERVAL ごとに連携の修復ジョブを実行する。
// 修復件数のメトリクスは SERVER_PORT の /metrics で公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, serviceName+"-worker", telemetry.Config{
		Enabled:  cfg.OTelEnabled,
		Endpoint: cfg.OTelExporterEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer flushTracing(shutdownTracing)

	db, dialect, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := newRegistry()
	job := newRepairJob(cfg, db, dialect, metrics.NewCollector(reg))
	scheduler := repair.NewScheduler(job, slog.Default())

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newWorkerHandler(db, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- serveUntilDone(ctx, server, "worker metrics server")
	}()

	slog.Info("worker starting",
		slog.Duration("repair_interval", cfg.RepairInterval),
		slog.Int("repair_batch_size", cfg.RepairBatchSize),
	)

	// 修復スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.RepairInterval)

	if err := <-errCh; err != nil {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// newRepairJob は修復ジョブを構築する。
func newRepairJob(cfg *config.Config, db *sql.DB, dialect database.Dialect, m metrics.MetricsCollector) *repair.Job {
	job := repair.NewJob(repository.NewSQLTxStore(db, dialect), m, slog.Default())
	job.BatchSize = cfg.RepairBatchSize
	return job
}

// runRepair は修復ジョブを1回だけ実行する。
// 修復に失敗したカップルが残った場合は終了コードで知らせるためエラーを返す。
func runRepair(ctx context.Context, cfg *config.Config) error {
	db, dialect, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := newRepairJob(cfg, db, dialect, metrics.Nop{}).Run(ctx)
	if err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}
	if res.Failed > 0 {
		return fmt.Errorf("repair left %d couples unresolved", res.Failed)
	}
	return nil
}

// newWorkerHandler はワーカーの/healthと/metricsを提供するハンドラーを返す。
func newWorkerHandler(db handler.Pinger, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler(reg))
	return r
}

// serveUntilDone はHTTPサーバーを起動し、ctxがキャンセルされたらグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

func flushTracing(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.Warn("failed to flush traces", slog.String("error", err.Error()))
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	return u.Redacted()
}
