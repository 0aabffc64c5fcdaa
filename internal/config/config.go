package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PGDSN          string
	MongoURI       string
	RedisAddr      string
	RabbitURL      string
	ListenAddr     string
	OTLPEndpoint   string
	ReservationTTL time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int

	VNPTmnCode    string
	VNPHashSecret string
	VNPPayURL     string
	VNPReturnURL  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	reservationTTL, _ := time.ParseDuration(os.Getenv("RESERVATION_TTL"))
	if reservationTTL == 0 {
		reservationTTL = 15 * time.Minute
	}
	sweepInterval, _ := time.ParseDuration(os.Getenv("SWEEP_INTERVAL"))
	if sweepInterval == 0 {
		sweepInterval = time.Minute
	}
	sweepBatch, _ := strconv.Atoi(os.Getenv("SWEEP_BATCH_SIZE"))
	if sweepBatch == 0 {
		sweepBatch = 500
	}
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	return &Config{
		PGDSN:          os.Getenv("PG_DSN"),
		MongoURI:       os.Getenv("MONGO_URI"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RabbitURL:      os.Getenv("RABBIT_URL"),
		ListenAddr:     listenAddr,
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ReservationTTL: reservationTTL,
		SweepInterval:  sweepInterval,
		SweepBatchSize: sweepBatch,
		VNPTmnCode:     os.Getenv("VNP_TMN_CODE"),
		VNPHashSecret:  os.Getenv("VNP_HASH_SECRET"),
		VNPPayURL:      os.Getenv("VNP_PAY_URL"),
		VNPReturnURL:   os.Getenv("VNP_RETURN_URL"),
	}, nil
}
