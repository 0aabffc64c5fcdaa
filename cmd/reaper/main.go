package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"

	"github.com/eventhub/booking/internal/adapters/crdb"
	redisadapter "github.com/eventhub/booking/internal/adapters/redis"
	"github.com/eventhub/booking/internal/booking"
	"github.com/eventhub/booking/internal/config"
	"github.com/eventhub/booking/internal/inventory"
	"github.com/eventhub/booking/internal/observability"
	"github.com/eventhub/booking/internal/reaper"
	"github.com/eventhub/booking/internal/vnpay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PGDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)

	provider := vnpay.NewClient(vnpay.Config{
		TmnCode:    cfg.VNPTmnCode,
		HashSecret: cfg.VNPHashSecret,
		PayURL:     cfg.VNPPayURL,
		ReturnURL:  cfg.VNPReturnURL,
	})

	svc := booking.NewService(
		booking.NewCRDBStore(repo),
		inventory.NewLedger(),
		provider,
		redisCache,
		logger,
		cfg.ReservationTTL,
		cfg.SweepBatchSize,
	)

	worker := reaper.New(svc, logger, cfg.ReservationTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, cfg.SweepInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown reaper")
}
