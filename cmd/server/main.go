package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticket-booking/internal/config"
	"github.com/iliyamo/concert-ticket-booking/internal/database"
	"github.com/iliyamo/concert-ticket-booking/internal/handler"
	"github.com/iliyamo/concert-ticket-booking/internal/idempotency"
	"github.com/iliyamo/concert-ticket-booking/internal/lock"
	"github.com/iliyamo/concert-ticket-booking/internal/model"
	"github.com/iliyamo/concert-ticket-booking/internal/queue"
	"github.com/iliyamo/concert-ticket-booking/internal/repository"
	"github.com/iliyamo/concert-ticket-booking/internal/router"
	"github.com/iliyamo/concert-ticket-booking/internal/scheduler"
	"github.com/iliyamo/concert-ticket-booking/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	policy, err := model.NewQueuePolicy(
		cfg.QueueMaxConcurrentUsers,
		cfg.QueueActiveTokenTTL,
		cfg.QueueWaitingTokenTTL,
		cfg.QueueActivationThreshold,
	)
	if err != nil {
		log.Fatalf("queue policy: %v", err)
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Redis backs the idempotency guard and its try-lock, and optionally
	// the admission queue; the service cannot start without it.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Fatal("redis is unreachable")
	}
	defer rdb.Close()

	var tokens service.TokenStore
	switch cfg.TokenStore {
	case "redis":
		tokens = repository.NewRedisTokenStore(rdb)
	case "mysql":
		tokens = repository.NewTokenRepo(db)
	default:
		log.Fatalf("unknown TOKEN_STORE %q (want mysql or redis)", cfg.TokenStore)
	}

	seats := repository.NewSeatRepo(db)
	reservations := repository.NewReservationRepo(db)
	payments := repository.NewPaymentRepo(db)
	points := repository.NewPointRepo(db)
	compensations := repository.NewCompensationRepo(db)
	outbox := repository.NewOutboxRepo(db)

	queueSvc := service.NewQueueService(tokens, policy)
	reservationSvc := service.NewReservationService(seats, reservations, cfg.ReservationHoldTTL)
	paymentSvc := service.NewPaymentService(payments, points, reservationSvc, compensations, cfg.CompensationMaxRetry)

	broker := queue.NewPublisher(cfg.RabbitURL)
	defer broker.Close()
	outboxSvc := service.NewOutboxService(outbox, broker, cfg.OutboxMaxRetry)

	guard := idempotency.NewGuard(
		idempotency.NewRedisStore(rdb),
		lock.NewRedisLocker(rdb, cfg.LockTTL),
		cfg.IdempotencyTTL,
	)

	sched := scheduler.New(queueSvc, reservationSvc, paymentSvc, outboxSvc, scheduler.Intervals{
		QueueSweep:        cfg.QueueSweepInterval,
		ReservationSweep:  cfg.ReservationSweepInterval,
		CompensationRetry: cfg.CompensationRetryInterval,
		OutboxPoll:        cfg.OutboxPollInterval,
		OutboxCleanup:     cfg.OutboxCleanupInterval,
		OutboxRetry:       cfg.OutboxRetryInterval,
	})
	if err := sched.Start(); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	go func() {
		if err := queue.StartPaymentConsumer(cfg.RabbitURL); err != nil {
			log.Printf("payment consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e, router.Handlers{
		Queue:   handler.NewQueueHandler(queueSvc),
		Booking: handler.NewBookingHandler(queueSvc, reservationSvc),
		Payment: handler.NewPaymentHandler(queueSvc, reservationSvc, paymentSvc),
	}, guard, cfg.JWTSecret, time.Second)

	go func() {
		addr := ":" + cfg.Port
		log.Printf("listening on %s (env=%s, token_store=%s)", addr, cfg.Env, cfg.TokenStore)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	sched.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
