package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardrail/internal/config"
	"github.com/congo-pay/cardrail/internal/funding"
	"github.com/congo-pay/cardrail/internal/gateway"
	"github.com/congo-pay/cardrail/internal/ledger"
	"github.com/congo-pay/cardrail/internal/metrics"
	"github.com/congo-pay/cardrail/internal/middleware"
	"github.com/congo-pay/cardrail/internal/notification"
	"github.com/congo-pay/cardrail/internal/payments"
	"github.com/congo-pay/cardrail/internal/payout"
	"github.com/congo-pay/cardrail/internal/pricing"
	"github.com/congo-pay/cardrail/internal/wallet"
	"github.com/congo-pay/cardrail/internal/withdrawal"
)

// staticLiquidity seeds the in-process payout rail used without PAYOUT_BASE_URL.
var staticLiquidity = decimal.NewFromInt(10_000_000)

// Deps aggregates shared dependencies required to wire routes. Nil backing
// services fall back to in-memory implementations outside production.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Kafka   notification.MessageWriter
	Metrics *metrics.Collectors
	Logger  *slog.Logger

	// Overrides used by tests and local runs.
	Ledger       ledger.Store
	Withdrawals  withdrawal.Repository
	Fees         pricing.Repository
	CardAdapters []gateway.Adapter
	PayoutRail   payout.Rail
}

// Services exposes what the server must run beside the HTTP handlers.
type Services struct {
	Processor *withdrawal.Processor
	Queue     *withdrawal.Queue
	Payout    *payout.Service
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	if d.Cfg.IsProduction() {
		if d.DB == nil && d.Ledger == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	store := d.Ledger
	if store == nil {
		if d.DB != nil {
			store = ledger.NewPostgresStore(d.DB)
		} else {
			store = ledger.NewInMemory()
		}
	}
	queueRepo := d.Withdrawals
	if queueRepo == nil {
		if d.DB != nil {
			queueRepo = withdrawal.NewPostgresRepository(d.DB)
		} else {
			queueRepo = withdrawal.NewMemoryRepository()
		}
	}
	feeRepo := d.Fees
	if feeRepo == nil {
		if d.DB != nil {
			feeRepo = pricing.NewPostgresRepository(d.DB)
		} else {
			feeRepo = pricing.NewMemoryRepository()
		}
	}
	feeRepo = pricing.NewCachedRepository(feeRepo, d.Cache, d.Cfg.FeeCacheTTL, d.Logger)
	resolver := pricing.NewResolver(feeRepo, d.Cfg.FallbackRates, d.Logger)

	notifier := notification.Multi{notification.NewLoggerNotifier(d.Logger)}
	if d.Kafka != nil {
		notifier = append(notifier, notification.NewKafkaNotifier(d.Kafka, ""))
	}

	adapters := append([]gateway.Adapter(nil), d.CardAdapters...)
	if len(adapters) == 0 {
		var err error
		if adapters, err = cardAdapters(d.Cfg); err != nil {
			return nil, err
		}
	}
	guard := gateway.NewReferenceGuard(d.Cache, d.Cfg.IdempotencyTTL)
	for i, a := range adapters {
		adapters[i] = gateway.WithObserver(gateway.WithGuard(a, guard), d.Metrics)
	}

	mutator := ledger.NewMutator(store)
	fundingSvc, err := funding.NewService(funding.Deps{
		Mutator:  mutator,
		Fees:     resolver,
		Rails:    gateway.NewRegistry(adapters...),
		Rail:     d.Cfg.CardRail,
		Notifier: notifier,
		Metrics:  d.Metrics,
		Logger:   d.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("funding service: %w", err)
	}
	paymentSvc, err := payments.NewService(payments.Deps{
		Mutator:      mutator,
		Fees:         resolver,
		FallbackFees: d.Cfg.TransferFallbackFees,
		Notifier:     notifier,
		Metrics:      d.Metrics,
		Logger:       d.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}
	walletSvc := wallet.NewService(store)

	queue := withdrawal.NewQueue(queueRepo, resolver, notifier, d.Metrics, d.Logger, withdrawal.QueueConfig{
		MaxAttempts:       d.Cfg.Withdrawal.MaxAttempts,
		DefaultFeePercent: d.Cfg.Payout.DefaultFeePercent,
	})
	rail := d.PayoutRail
	if rail == nil {
		if rail, err = payoutRail(d.Cfg); err != nil {
			return nil, err
		}
	}
	payoutSvc, err := payout.NewService(payout.Deps{
		Mutator:           mutator,
		Fees:              resolver,
		Rail:              rail,
		Queue:             queue,
		DefaultFeePercent: d.Cfg.Payout.DefaultFeePercent,
		Notifier:          notifier,
		Metrics:           d.Metrics,
		Logger:            d.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("payout service: %w", err)
	}
	processor := withdrawal.NewProcessor(queue, payoutSvc, d.Cache, notifier, d.Metrics, d.Logger, withdrawal.ProcessorConfig{
		DrainInterval:       d.Cfg.Withdrawal.DrainInterval,
		LiquidityInterval:   d.Cfg.Withdrawal.LiquidityInterval,
		ArchiveInterval:     d.Cfg.Withdrawal.ArchiveInterval,
		Retention:           d.Cfg.Withdrawal.Retention,
		LiquidityThreshold:  d.Cfg.Withdrawal.LiquidityThreshold,
		LiquidityCurrencies: d.Cfg.Withdrawal.LiquidityCurrencies,
	})

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID := middleware.RequestIDFrom(c)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api.Group("", middleware.Identity([]byte(d.Cfg.JWTSecret)))
	idempotent := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	cardLimit := middleware.RateLimit(d.Cache, "cards", d.Cfg.CardRateLimit)

	RegisterFundingRoutes(protected, funding.NewHandler(fundingSvc), cardLimit, idempotent)
	RegisterPaymentRoutes(protected, payments.NewHandler(paymentSvc), idempotent)
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc), payout.NewHandler(payoutSvc), idempotent)
	RegisterWithdrawalRoutes(protected, withdrawal.NewHandler(queue, processor), middleware.RequireRole(middleware.RoleAdmin))

	d.Logger.Info("routes configured",
		slog.String("card_rail", string(d.Cfg.CardRail)),
		slog.Bool("postgres", d.DB != nil),
		slog.Bool("redis", d.Cache != nil),
		slog.Bool("kafka", d.Kafka != nil))

	return &Services{Processor: processor, Queue: queue, Payout: payoutSvc}, nil
}

// cardAdapters builds an HTTP adapter for every rail with a base URL and a
// static one otherwise. Production refuses a static card rail.
func cardAdapters(cfg config.Config) ([]gateway.Adapter, error) {
	env := cfg.GatewayEnvironment()
	accounts := func(r config.RailAccount) gateway.AccountConfig {
		return gateway.AccountConfig{Environment: env, DebitAccountID: r.DebitAccountID, SandboxAccountID: r.SandboxAccountID}
	}

	var out []gateway.Adapter
	if cfg.Sudo.BaseURL != "" {
		out = append(out, gateway.NewSudoAdapter(gateway.SudoConfig{
			BaseURL:  cfg.Sudo.BaseURL,
			APIKey:   cfg.Sudo.APIKey,
			Accounts: accounts(cfg.Sudo),
			Timeout:  cfg.GatewayTimeout,
		}))
	} else {
		out = append(out, gateway.NewStaticAdapter(gateway.RailSudo, accounts(cfg.Sudo).DebitAccount()))
	}
	if cfg.Maplerad.BaseURL != "" {
		out = append(out, gateway.NewMapleradAdapter(gateway.MapleradConfig{
			BaseURL:   cfg.Maplerad.BaseURL,
			SecretKey: cfg.Maplerad.APIKey,
			Accounts:  accounts(cfg.Maplerad),
			Timeout:   cfg.GatewayTimeout,
		}))
	} else {
		out = append(out, gateway.NewStaticAdapter(gateway.RailMaplerad, accounts(cfg.Maplerad).DebitAccount()))
	}

	if cfg.IsProduction() {
		active := cfg.Sudo.BaseURL
		if cfg.CardRail == gateway.RailMaplerad {
			active = cfg.Maplerad.BaseURL
		}
		if active == "" {
			return nil, fmt.Errorf("base url for card rail %s is required in production", cfg.CardRail)
		}
	}
	return out, nil
}

func payoutRail(cfg config.Config) (payout.Rail, error) {
	if cfg.Payout.BaseURL != "" {
		return payout.NewHTTPRail(payout.HTTPRailConfig{
			BaseURL: cfg.Payout.BaseURL,
			APIKey:  cfg.Payout.APIKey,
			Timeout: cfg.Payout.Timeout,
		}), nil
	}
	if cfg.IsProduction() {
		return nil, fmt.Errorf("PAYOUT_BASE_URL is required in production")
	}
	liquidity := make(map[string]decimal.Decimal, len(cfg.Withdrawal.LiquidityCurrencies))
	for _, c := range cfg.Withdrawal.LiquidityCurrencies {
		liquidity[c] = staticLiquidity
	}
	return payout.NewStaticRail(liquidity), nil
}

func chain(mw []fiber.Handler, h fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(mw)+1)
	out = append(out, mw...)
	return append(out, h)
}
