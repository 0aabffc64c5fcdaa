package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eventhub/booking/internal/adapters/crdb"
	mongoadapter "github.com/eventhub/booking/internal/adapters/mongo"
	"github.com/eventhub/booking/internal/adapters/rabbit"
	redisadapter "github.com/eventhub/booking/internal/adapters/redis"
	"github.com/eventhub/booking/internal/booking"
	"github.com/eventhub/booking/internal/config"
	httphandler "github.com/eventhub/booking/internal/http"
	"github.com/eventhub/booking/internal/idempotency"
	"github.com/eventhub/booking/internal/inventory"
	"github.com/eventhub/booking/internal/observability"
	"github.com/eventhub/booking/internal/ratelimit"
	"github.com/eventhub/booking/internal/vnpay"
)

const schema = `
	CREATE DATABASE IF NOT EXISTS eventhub;
	CREATE TABLE IF NOT EXISTS eventhub.events (
		id UUID PRIMARY KEY,
		created_at TIMESTAMPTZ DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS eventhub.event_trending_logs (
		event_id UUID PRIMARY KEY,
		view_count INT DEFAULT 0,
		total_revenue NUMERIC DEFAULT 0,
		trending_score FLOAT DEFAULT 0,
		interest_score FLOAT DEFAULT 0,
		last_updated TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS eventhub.ticket_types (
		id UUID PRIMARY KEY,
		event_id UUID,
		name TEXT,
		price FLOAT,
		total_quantity INT,
		sold_quantity INT DEFAULT 0,
		is_active BOOL DEFAULT true
	);
	CREATE TABLE IF NOT EXISTS eventhub.payments (
		id UUID PRIMARY KEY,
		user_id UUID,
		amount FLOAT,
		payment_method TEXT,
		status BOOL DEFAULT false,
		paid_at TIMESTAMPTZ,
		transaction_id TEXT UNIQUE,
		discount_code_id UUID,
		created_at TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS eventhub.tickets (
		id UUID PRIMARY KEY,
		user_id UUID,
		event_id UUID,
		ticket_type_id UUID,
		payment_id UUID,
		uuid TEXT UNIQUE,
		qr_code_url TEXT,
		is_paid BOOL DEFAULT false,
		purchase_date TIMESTAMPTZ,
		is_checked_in BOOL DEFAULT false,
		check_in_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS eventhub.discount_codes (
		id UUID PRIMARY KEY,
		code TEXT UNIQUE,
		percent_off FLOAT,
		valid_from TIMESTAMPTZ,
		valid_until TIMESTAMPTZ,
		max_uses INT DEFAULT 0,
		used_count INT DEFAULT 0,
		customer_group TEXT DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS eventhub.outbox (
		id UUID PRIMARY KEY,
		aggregate_type TEXT,
		aggregate_id UUID,
		event_type TEXT,
		payload_json BYTES,
		created_at TIMESTAMPTZ DEFAULT now(),
		published_at TIMESTAMPTZ,
		status TEXT CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
		dedupe_key TEXT
	);
`

func TestIntegration_ReservePayConfirm(t *testing.T) {
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer crdbContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForExec([]string{"mongo", "--eval", "db.runCommand('ping').ok"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health").WithPort("15672"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitContainer.Terminate(ctx)

	crdbHost, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	crdbPort, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}
	mongoHost, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mongoPort, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}
	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}
	rabbitHost, err := rabbitContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rabbitPort, err := rabbitContainer.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		PGDSN:          "postgresql://root@" + crdbHost + ":" + crdbPort.Port() + "/eventhub?sslmode=disable",
		MongoURI:       "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:      redisHost + ":" + redisPort.Port(),
		RabbitURL:      "amqp://guest:guest@" + rabbitHost + ":" + rabbitPort.Port() + "/",
		ReservationTTL: 15 * time.Minute,
		SweepBatchSize: 100,
		VNPTmnCode:     "TESTCODE",
		VNPHashSecret:  "integration-secret",
		VNPPayURL:      "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		VNPReturnURL:   "http://localhost:8080/v1/payments/vnpay/return",
	}

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatal(err)
	}
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database("eventhub")
	logger := observability.NewLogger()
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := ratelimit.NewRateLimiter(redisCache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	if _, err := rabbit.NewPublisher(rabbitConn); err != nil {
		t.Fatal(err)
	}

	provider := vnpay.NewClient(vnpay.Config{
		TmnCode:    cfg.VNPTmnCode,
		HashSecret: cfg.VNPHashSecret,
		PayURL:     cfg.VNPPayURL,
		ReturnURL:  cfg.VNPReturnURL,
	})
	svc := booking.NewService(booking.NewCRDBStore(repo), inventory.NewLedger(), provider, redisCache, logger, cfg.ReservationTTL, cfg.SweepBatchSize)

	handlers := httphandler.NewHandlers(cfg, svc, idemp, catalog, audit, logger)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{Addr: ":8080", Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Error(err)
		}
	}()
	defer srv.Shutdown(ctx)
	time.Sleep(100 * time.Millisecond)

	// Seed one sellable category.
	catID := uuid.New()
	eventID := uuid.New()
	if _, err := pool.Exec(ctx, `
		INSERT INTO ticket_types (id, event_id, name, price, total_quantity, sold_quantity, is_active)
		VALUES ($1, $2, 'GA', 150000, 10, 0, true)
	`, catID, eventID); err != nil {
		t.Fatal(err)
	}

	userID := uuid.New()
	bookReq := map[string]interface{}{
		"user_id": userID.String(),
		"items": []map[string]interface{}{
			{"category_id": catID.String(), "quantity": 2},
		},
		"payment_method": "vnpay",
	}
	body, _ := json.Marshal(bookReq)
	idemKey := uuid.New().String()
	req, _ := http.NewRequest("POST", "http://localhost:8080/v1/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("booking failed, status: %d", resp.StatusCode)
	}
	var bookResp struct {
		PaymentID      uuid.UUID `json:"payment_id"`
		TransactionRef string    `json:"transaction_ref"`
		Amount         float64   `json:"amount"`
		PayURL         string    `json:"pay_url"`
	}
	json.NewDecoder(resp.Body).Decode(&bookResp)
	resp.Body.Close()
	if bookResp.Amount != 300000 || bookResp.PayURL == "" {
		t.Fatalf("unexpected booking response: %+v", bookResp)
	}

	// Retrying the POST with the same Idempotency-Key replays the stored
	// response instead of reserving again.
	req, _ = http.NewRequest("POST", "http://localhost:8080/v1/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var replayResp struct {
		PaymentID uuid.UUID `json:"payment_id"`
	}
	json.NewDecoder(resp.Body).Decode(&replayResp)
	resp.Body.Close()
	if replayResp.PaymentID != bookResp.PaymentID {
		t.Fatalf("idempotent retry must replay the same booking: got %s, want %s", replayResp.PaymentID, bookResp.PaymentID)
	}
	var paymentCount int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM payments`).Scan(&paymentCount); err != nil {
		t.Fatal(err)
	}
	if paymentCount != 1 {
		t.Fatalf("idempotent retry must not create a second payment, got %d", paymentCount)
	}

	// The availability read path sees the two live holds.
	resp, err = http.Get("http://localhost:8080/v1/categories/" + catID.String() + "/availability")
	if err != nil {
		t.Fatal(err)
	}
	var availResp struct {
		Available int `json:"available"`
	}
	json.NewDecoder(resp.Body).Decode(&availResp)
	resp.Body.Close()
	if availResp.Available != 8 {
		t.Fatalf("availability with live holds: got %d, want 8", availResp.Available)
	}

	// Provider callback, signed the same way VNPay signs.
	q := url.Values{}
	q.Set("vnp_TmnCode", cfg.VNPTmnCode)
	q.Set("vnp_TxnRef", bookResp.TransactionRef)
	q.Set("vnp_ResponseCode", "00")
	q.Set("vnp_Amount", "30000000")
	q.Set("vnp_SecureHash", vnpay.Sign(cfg.VNPHashSecret, q.Encode()))

	resp, err = http.Get("http://localhost:8080/v1/payments/vnpay/callback?" + q.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback failed, status: %d", resp.StatusCode)
	}
	var cbResp struct {
		RspCode string `json:"RspCode"`
	}
	json.NewDecoder(resp.Body).Decode(&cbResp)
	resp.Body.Close()
	if cbResp.RspCode != "00" {
		t.Fatalf("expected RspCode 00, got %s", cbResp.RspCode)
	}

	// Booking must now be paid with issued credentials, sold moved to 2.
	resp, err = http.Get("http://localhost:8080/v1/bookings/" + bookResp.PaymentID.String())
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get booking failed, status: %d", resp.StatusCode)
	}
	var getResp struct {
		Paid    bool `json:"paid"`
		Tickets []struct {
			Token     string `json:"token"`
			QRCodeURL string `json:"qr_code_url"`
			Paid      bool   `json:"paid"`
		} `json:"tickets"`
	}
	json.NewDecoder(resp.Body).Decode(&getResp)
	resp.Body.Close()
	if !getResp.Paid || len(getResp.Tickets) != 2 {
		t.Fatalf("unexpected booking state: %+v", getResp)
	}
	for _, ticket := range getResp.Tickets {
		if !ticket.Paid || ticket.QRCodeURL == "" {
			t.Errorf("ticket not confirmed: %+v", ticket)
		}
	}

	var sold int
	if err := pool.QueryRow(ctx, `SELECT sold_quantity FROM ticket_types WHERE id = $1`, catID).Scan(&sold); err != nil {
		t.Fatal(err)
	}
	if sold != 2 {
		t.Errorf("sold: got %d, want 2", sold)
	}

	// Replayed callback must acknowledge without double-counting.
	resp, err = http.Get("http://localhost:8080/v1/payments/vnpay/callback?" + q.Encode())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replayed callback failed, status: %d", resp.StatusCode)
	}
	if err := pool.QueryRow(ctx, `SELECT sold_quantity FROM ticket_types WHERE id = $1`, catID).Scan(&sold); err != nil {
		t.Fatal(err)
	}
	if sold != 2 {
		t.Errorf("replay must not move sold, got %d", sold)
	}

	// Check in one ticket.
	token := getResp.Tickets[0].Token
	resp, err = http.Post("http://localhost:8080/v1/tickets/"+token+"/checkin", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check-in failed, status: %d", resp.StatusCode)
	}
}
