package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	jwttoken "safe/internal/jwt_token"
	"safe/internal/platform/config"
	"safe/internal/platform/httpserver"
	"safe/internal/platform/logger"
	platformmetrics "safe/internal/platform/metrics"
	"safe/internal/platform/ratelimit"
	platformredis "safe/internal/platform/redis"
	"safe/internal/safe/clock"
	"safe/internal/safe/handler"
	"safe/internal/safe/idempotency"
	safemetrics "safe/internal/safe/metrics"
	"safe/internal/safe/models"
	"safe/internal/safe/ports"
	"safe/internal/safe/service"
	"safe/internal/safe/store"
	"safe/internal/token"
	"safe/pkg/domain"
	"safe/pkg/platform/audit"
	"safe/pkg/platform/audit/outbox"
	"safe/pkg/platform/audit/publishers/compliance"
	auditmemory "safe/pkg/platform/audit/store/memory"
	auditpostgres "safe/pkg/platform/audit/store/postgres"
)

// main wires configuration, storage and transport, then runs the HTTP server
// and the audit relay until a signal arrives.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	program, err := domain.ParseProgramID(cfg.ProgramID)
	if err != nil {
		return err
	}
	policy, err := service.ParseSlashPolicy(cfg.Safe.SlashPolicy)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	httpMetrics := platformmetrics.New(reg)

	var (
		tx         store.Tx
		assets     assetLedger
		auditStore audit.Store
		relayDB    *sql.DB
	)
	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if _, err := pool.Exec(ctx, store.Schema+token.PostgresSchema+auditpostgres.Schema); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		tx = store.NewPostgresStore(pool, cfg.Safe.TxTimeout)
		assets = token.NewPostgresBank(pool)
		auditStore = auditpostgres.New(pool)

		relayDB, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open relay database: %w", err)
		}
		defer relayDB.Close()
	} else {
		log.Warn("no postgres dsn configured, ledger state is in memory")
		tx = store.NewMemoryStore(store.WithTxTimeout(cfg.Safe.TxTimeout))
		assets = token.NewBank()
		auditStore = auditmemory.NewInMemoryStore()
	}

	if err := seedBank(ctx, assets, program, cfg.Bank); err != nil {
		return fmt.Errorf("seed asset ledger: %w", err)
	}

	publisher := compliance.New(auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics(reg)),
	)
	svc, err := service.New(program, tx, assets, clock.NewWall(cfg.Clock.Genesis, cfg.Clock.SlotDuration),
		service.WithLogger(log),
		service.WithAuditPublisher(publisher),
		service.WithMetrics(safemetrics.New(reg)),
		service.WithTracer(otel.Tracer("safe/processor")),
		service.WithSlashPolicy(policy),
	)
	if err != nil {
		return err
	}

	var idem idempotency.Store = idempotency.NewInMemoryStore()
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		idem = idempotency.NewRedisStore(redisClient)
	}

	tokens := jwttoken.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	router := chi.NewRouter()
	handler.New(svc, jwttoken.NewJWTServiceAdapter(tokens), log,
		handler.WithIdempotency(idem),
		handler.WithMetrics(httpMetrics),
		handler.WithRateLimit(ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window)),
	).Register(router)
	router.Handle("/metrics", httpMetrics.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	g, gctx := errgroup.WithContext(ctx)
	srv := httpserver.New(cfg.Addr, router)
	g.Go(func() error {
		log.Info("starting safe ledger", "addr", cfg.Addr, "program", program, "slash_policy", policy)
		return httpserver.Run(gctx, srv)
	})

	if relayDB != nil && len(cfg.Kafka.Brokers) > 0 {
		client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
		if err != nil {
			return fmt.Errorf("create kafka client: %w", err)
		}
		defer client.Close()
		if err := outbox.EnsureTopic(ctx, client, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			return err
		}
		relay, err := outbox.New(relayDB, client, cfg.Kafka.Topic,
			outbox.WithLogger(log),
			outbox.WithBatchSize(cfg.Kafka.BatchSize),
			outbox.WithPollInterval(cfg.Kafka.PollInterval),
		)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	return g.Wait()
}

// assetLedger is an asset ledger that can be seeded from config. Seeding only
// creates missing accounts, so durable balances survive restarts untouched.
type assetLedger interface {
	ports.AssetLedger
	Seed(ctx context.Context, acct token.Account) error
	SeedMint(ctx context.Context, asset domain.AssetID, authority domain.AccountID) error
}

func seedBank(ctx context.Context, bank assetLedger, program domain.ProgramID, cfg config.BankConfig) error {
	for _, a := range cfg.Accounts {
		id, err := domain.ParseAccountID(a.ID)
		if err != nil {
			return err
		}
		asset, err := domain.ParseAssetID(a.Asset)
		if err != nil {
			return err
		}
		controller, err := resolveController(program, a.Controller, a.VaultOf, a.SignerNonce)
		if err != nil {
			return err
		}
		acct := token.Account{ID: id, Asset: asset, Controller: controller, Balance: a.Balance}
		if err := bank.Seed(ctx, acct); err != nil {
			return err
		}
	}
	for _, m := range cfg.Mints {
		asset, err := domain.ParseAssetID(m.Asset)
		if err != nil {
			return err
		}
		authority, err := resolveController(program, m.Authority, m.VaultOf, m.SignerNonce)
		if err != nil {
			return err
		}
		if err := bank.SeedMint(ctx, asset, authority); err != nil {
			return err
		}
	}
	return nil
}

func resolveController(program domain.ProgramID, controller, vaultOf string, nonce uint64) (domain.AccountID, error) {
	if vaultOf == "" {
		return domain.ParseAccountID(controller)
	}
	registry, err := domain.ParseAccountID(vaultOf)
	if err != nil {
		return domain.AccountID{}, err
	}
	return models.DeriveVaultAuthority(program, registry, nonce), nil
}
