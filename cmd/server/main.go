package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"drivehub/internal/api"
	"drivehub/internal/auth"
	"drivehub/internal/config"
	"drivehub/internal/ledger"
	"drivehub/internal/repository"
	"drivehub/internal/service"
	"drivehub/internal/utils"
	"drivehub/internal/worker"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	lockLease   = 30 * time.Second
	tokenTTL    = 24 * time.Hour
	taskRetries = 8
)

type stores struct {
	reservations service.ReservationStore
	jobs         service.JobStore
	windows      ledger.Store
	vehicles     service.VehicleCatalog
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := utils.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeDB := openStores(ctx, cfg, logger)
	defer closeDB()

	var locks ledger.Locker = ledger.NewKeyedMutex()
	if cfg.LockBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisLockDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		locks = ledger.NewRedisLocker(rdb, lockLease, logger)
	}

	avail := ledger.New(st.windows, locks, ledger.Options{HoldTTL: cfg.HoldTTL, LockTimeout: cfg.LockTimeout}, logger)

	pricingCfg, err := config.LoadPricing(cfg.PricingFile)
	if err != nil {
		logger.Fatal("failed to load pricing", zap.Error(err))
	}
	pricing := service.Pricing{
		Currency: pricingCfg.Currency,
		Rates:    service.FeeRates{ServiceFeeBps: pricingCfg.ServiceFeeBps, InsuranceFeeBps: pricingCfg.InsuranceFeeBps},
		Catalog:  service.OptionCatalog(pricingCfg.Catalog()),
	}

	payments := &service.PaymentRouter{}
	if cfg.StripeSecretKey != "" {
		payments.Card = service.NewStripeService(cfg.StripeSecretKey)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, card payments disabled")
	}
	if cfg.MobileMoneyBaseURL != "" {
		payments.MobileMoney = service.NewMobileMoneyService(cfg.MobileMoneyBaseURL, cfg.MobileMoneyAPIKey, nil)
	}

	var (
		email service.EmailSender
		sms   service.SMSSender
	)
	if cfg.SendGridAPIKey != "" {
		email = service.NewSendGridSender(cfg.SendGridAPIKey, cfg.SendGridFromEmail, cfg.SendGridFromName)
	}
	if cfg.TwilioAccountSID != "" {
		sms = service.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	}
	notifier := service.NewNotificationService(email, sms, logger)

	var alertStore service.AlertStore
	if cfg.MongoURI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			logger.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		defer client.Disconnect(context.Background())
		alertStore = repository.NewMongoAlertRepository(client.Database(cfg.MongoDatabase))
	}
	alerts := service.NewAlertService(alertStore, logger)

	machine := service.NewStateMachine(st.reservations, avail, payments, notifier, locks, service.StateMachineConfig{
		MaxPaymentRetries: cfg.MaxPaymentRetries,
		LockTimeout:       cfg.LockTimeout,
	}, logger)
	reconciler := service.NewReconciler(st.reservations, machine, alerts, logger)
	bookings := service.NewBookingService(st.vehicles, pricing, avail, machine, st.reservations, payments, auth.RolePermissions{}, nil, logger)
	jobs := service.NewJobService(st.jobs, avail, machine, cfg.PaymentTimeout, nil, logger)

	sched := cron.New()
	if _, err := jobs.Schedule(sched, cfg.SweepSchedule); err != nil {
		logger.Fatal("invalid SWEEP_SCHEDULE", zap.String("schedule", cfg.SweepSchedule), zap.Error(err))
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	eventHandler := worker.NewPaymentEventHandler(reconciler, cfg.PaymentEventGrace, logger)
	var queue api.EventQueue = &worker.InlineQueue{Handler: eventHandler}
	if cfg.RedisAddr != "" {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisQueueDB}
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		queue = worker.NewQueue(client, taskRetries, logger)

		srv := worker.NewServer(redisOpt, cfg.WorkerConcurrency, logger)
		if err := srv.Start(worker.NewServeMux(eventHandler)); err != nil {
			logger.Fatal("failed to start payment worker", zap.Error(err))
		}
		defer srv.Shutdown()
	} else {
		logger.Warn("REDIS_ADDR not set, payment events are reconciled inline")
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, tokenTTL)
	router := api.NewRouter(api.RouterDeps{
		Bookings:           bookings,
		Tokens:             tokens,
		Queue:              queue,
		StripeSecret:       cfg.StripeWebhookSecret,
		MobileMoneyHash:    cfg.MobileMoneyCallbackTokenHash,
		RateLimitPerMinute: cfg.RateLimitPerMin,
		TrustProxy:         cfg.TrustProxy,
		Logger:             logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           api.Wrap(router, nil, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server running", zap.String("port", cfg.AppPort), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (stores, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores with an empty vehicle catalog")
		reservations := repository.NewMemoryReservationRepository()
		return stores{
			reservations: reservations,
			jobs:         reservations,
			windows:      repository.NewMemoryWindowRepository(),
			vehicles:     repository.NewMemoryVehicleRepository(),
		}, func() {}
	}

	conn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open DB", zap.Error(err))
	}
	if err := conn.PingContext(ctx); err != nil {
		logger.Fatal("failed to connect to DB", zap.Error(err))
	}
	if err := repository.EnsureSchema(ctx, conn); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}
	return stores{
		reservations: repository.NewReservationRepository(conn),
		jobs:         repository.NewJobRepository(conn),
		windows:      repository.NewWindowRepository(conn),
		vehicles:     repository.NewVehicleRepository(conn),
	}, func() { conn.Close() }
}
