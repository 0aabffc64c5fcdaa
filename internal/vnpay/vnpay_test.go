package vnpay

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func testClient() *Client {
	c := NewClient(Config{
		TmnCode:    "EVHUB001",
		HashSecret: "s3cr3t-key",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://eventhub.example/v1/payments/vnpay/callback",
	})
	c.now = func() time.Time {
		return time.Date(2024, 7, 15, 10, 30, 0, 0, time.UTC)
	}
	return c
}

func TestBuildPayURL_SignatureRoundTrip(t *testing.T) {
	c := testClient()

	payURL, err := c.BuildPayURL(PayParams{
		TxnRef:    "txn-123",
		Amount:    250000,
		OrderInfo: "EventHub booking txn-123",
		ClientIP:  "203.0.113.7",
	})
	if err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(payURL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()

	if got := q.Get("vnp_Amount"); got != "25000000" {
		t.Errorf("amount not in minor units: got %s, want 25000000", got)
	}
	if got := q.Get("vnp_TxnRef"); got != "txn-123" {
		t.Errorf("txn ref: got %s", got)
	}
	if got := q.Get("vnp_CreateDate"); got != "20240715103000" {
		t.Errorf("create date: got %s", got)
	}

	// The signature must validate against an independent recomputation
	// over the sorted, percent-encoded parameter set.
	if err := c.VerifyCallback(q); err != nil {
		t.Fatalf("round-trip verification failed: %v", err)
	}
}

func TestBuildPayURL_Deterministic(t *testing.T) {
	c := testClient()
	p := PayParams{TxnRef: "txn-9", Amount: 100, OrderInfo: "x", ClientIP: "127.0.0.1"}

	u1, err := c.BuildPayURL(p)
	if err != nil {
		t.Fatal(err)
	}
	u2, err := c.BuildPayURL(p)
	if err != nil {
		t.Fatal(err)
	}
	if u1 != u2 {
		t.Error("same params and clock must produce identical URLs")
	}
}

func TestVerifyCallback_Tampered(t *testing.T) {
	c := testClient()

	payURL, err := c.BuildPayURL(PayParams{TxnRef: "txn-1", Amount: 5000, OrderInfo: "o", ClientIP: "10.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(payURL)
	q := u.Query()
	q.Set("vnp_Amount", "1") // pay less than reserved

	if err := c.VerifyCallback(q); err != ErrInvalidSignature {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyCallback_MissingSignature(t *testing.T) {
	c := testClient()
	q := url.Values{}
	q.Set("vnp_TxnRef", "txn-1")
	q.Set("vnp_ResponseCode", "00")

	if err := c.VerifyCallback(q); err != ErrMissingSignature {
		t.Errorf("expected ErrMissingSignature, got %v", err)
	}
}

func TestVerifyCallback_IgnoresHashTypeParam(t *testing.T) {
	c := testClient()

	v := url.Values{}
	v.Set("vnp_TxnRef", "txn-5")
	v.Set("vnp_ResponseCode", "00")
	sig := Sign(c.cfg.HashSecret, v.Encode())
	v.Set("vnp_SecureHash", sig)
	v.Set("vnp_SecureHashType", "HMACSHA512")

	if err := c.VerifyCallback(v); err != nil {
		t.Errorf("hash-type param must be excluded from signing: %v", err)
	}
}

func TestBuildPayURL_EmptyTxnRef(t *testing.T) {
	c := testClient()
	if _, err := c.BuildPayURL(PayParams{Amount: 100}); err == nil {
		t.Error("expected error for empty transaction reference")
	}
}

func TestSign_Canonicalization(t *testing.T) {
	v := url.Values{}
	v.Set("b", "2")
	v.Set("a", "1 with spaces")
	v.Set("c", "x&y=z")

	encoded := v.Encode()
	if !strings.HasPrefix(encoded, "a=") {
		t.Fatalf("keys not in ascii order: %s", encoded)
	}
	if strings.Contains(encoded, " ") || strings.Contains(encoded, "x&y") {
		t.Fatalf("reserved characters not encoded: %s", encoded)
	}
	if Sign("k", encoded) != Sign("k", encoded) {
		t.Error("signing is not deterministic")
	}
	if Sign("k", encoded) == Sign("k2", encoded) {
		t.Error("different secrets must produce different signatures")
	}
}

func TestResponseMessage(t *testing.T) {
	cases := map[string]string{
		"00": "Transaction approved",
		"51": "Insufficient funds",
		"11": "Payment session expired",
		"ZZ": "Unknown payment error",
	}
	for code, want := range cases {
		if got := ResponseMessage(code); got != want {
			t.Errorf("code %s: got %q, want %q", code, got, want)
		}
	}
}
