package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/libman/internal/catalog"
	"github.com/hitoshi/libman/internal/circulation"
	"github.com/hitoshi/libman/internal/clock"
	"github.com/hitoshi/libman/internal/config"
	"github.com/hitoshi/libman/internal/database"
	"github.com/hitoshi/libman/internal/handler"
	"github.com/hitoshi/libman/internal/logger"
	"github.com/hitoshi/libman/internal/metrics"
	"github.com/hitoshi/libman/internal/middleware"
	"github.com/hitoshi/libman/internal/repository"
	"github.com/hitoshi/libman/internal/worker/sweep"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

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

	// 3. 設定のログレベルで再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信すると終了処理に入る。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
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
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandSweep:
		return runSweep(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// components はサブコマンド間で共有する依存関係。
type components struct {
	store       repository.Store
	registry    *prometheus.Registry
	collector   *metrics.Collector
	circulation *circulation.Service
	catalog     *catalog.Service
	sweeper     *sweep.Sweeper
}

// openStore は設定に応じたデータストアを開き、疎通を確認する。
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	var store repository.Store
	switch cfg.StoreDriver {
	case config.StoreDriverBolt:
		s, err := repository.OpenBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		db, err := database.Open(cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store = repository.NewPostgresStore(db, cfg.DBDriver)
	}

	if err := store.PingContext(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	slog.Info("store connection established", slog.String("store_driver", cfg.StoreDriver))
	return store, nil
}

// wire はデータストアを開き、サービスとスイーパーを構築する。
func wire(ctx context.Context, cfg *config.Config) (*components, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	clk := clock.System{}
	circ, err := circulation.NewService(store, clk, slog.Default(), collector, circulation.ServiceConfig{
		Policy: circulation.Policy{
			LoanPeriod: cfg.LoanPeriod,
			FineAmount: cfg.FineAmount,
		},
		LoanPageSize: cfg.LoanPageSize,
		FinePageSize: cfg.FinePageSize,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("invalid circulation policy: %w", err)
	}

	return &components{
		store:       store,
		registry:    reg,
		collector:   collector,
		circulation: circ,
		catalog:     catalog.NewService(store, clk, slog.Default()),
		sweeper:     sweep.NewSweeper(circ, collector, slog.Default(), cfg.SweepMaxConcurrent, cfg.SweepBatchSize),
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// SWEEP_IN_SERVERが有効な場合は同一プロセスで延滞スイープも定期実行する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	c, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.store.Close()

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           c.collector,
		Gatherer:          c.registry,
		LoanService:       c.circulation,
		FineService:       c.circulation,
		Eligibility:       c.circulation,
		CatalogService:    c.catalog,
		SweepRunner:       c.sweeper,
		HealthChecker:     c.store,
	})

	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if cfg.SweepInServer {
		g.Go(func() error {
			c.sweeper.Start(gctx, cfg.SweepInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// SWEEP_INTERVALごとに延滞スイープを実行し、ctxがキャンセルされると終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	c, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.store.Close()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
		slog.Int("max_concurrent", cfg.SweepMaxConcurrent),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	c.sweeper.Start(ctx, cfg.SweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runSweep は延滞スイープを1回実行して終了する。
// cronなど外部スケジューラからの起動を想定する。
func runSweep(ctx context.Context, cfg *config.Config) error {
	c, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.store.Close()

	result, err := c.sweeper.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	if result.Failed > 0 {
		return fmt.Errorf("sweep %s finished with %d failed loans", result.RunID, result.Failed)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
// Boltストアはスキーマを持たないため何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreDriverBolt {
		slog.Info("bolt store has no schema to migrate", slog.String("path", cfg.BoltPath))
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
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
