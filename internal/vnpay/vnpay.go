// Package vnpay builds and verifies signed payment-gateway URLs. The
// signature is an HMAC-SHA512 over the ASCII-sorted, percent-encoded
// key=value pairs joined by "&", excluding the signature fields themselves.
// The canonicalization is byte-exact: the provider recomputes it on
// callback and rejects any mismatch.
package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	version    = "2.1.0"
	commandPay = "pay"
	currency   = "VND"
	locale     = "vn"

	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"

	// ResponseCodeSuccess is the provider's "transaction approved" code.
	ResponseCodeSuccess = "00"
)

var (
	ErrInvalidSignature = errors.New("vnpay: invalid signature")
	ErrMissingSignature = errors.New("vnpay: missing signature")
)

type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

type Client struct {
	cfg Config
	now func() time.Time
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, now: time.Now}
}

type PayParams struct {
	TxnRef    string
	Amount    float64 // major currency units; sent to the provider x100
	OrderInfo string
	ClientIP  string
}

// BuildPayURL constructs the redirect URL for one payment attempt. The
// construction is deterministic for a fixed clock, so two calls with the
// same params and timestamp produce the same signature.
func (c *Client) BuildPayURL(p PayParams) (string, error) {
	if p.TxnRef == "" {
		return "", errors.New("vnpay: empty transaction reference")
	}
	v := url.Values{}
	v.Set("vnp_Version", version)
	v.Set("vnp_Command", commandPay)
	v.Set("vnp_TmnCode", c.cfg.TmnCode)
	v.Set("vnp_Amount", strconv.FormatInt(int64(math.Round(p.Amount*100)), 10))
	v.Set("vnp_CurrCode", currency)
	v.Set("vnp_TxnRef", p.TxnRef)
	v.Set("vnp_OrderInfo", p.OrderInfo)
	v.Set("vnp_Locale", locale)
	v.Set("vnp_IpAddr", p.ClientIP)
	v.Set("vnp_CreateDate", c.now().Format("20060102150405"))
	v.Set("vnp_ReturnUrl", c.cfg.ReturnURL)

	signed := v.Encode()
	v.Set(paramSecureHash, Sign(c.cfg.HashSecret, signed))
	return c.cfg.PayURL + "?" + v.Encode(), nil
}

// VerifyCallback checks the signature on an inbound callback's query
// parameters. It mutates nothing; a verification failure must be treated as
// possible tampering and rejected without state change.
func (c *Client) VerifyCallback(q url.Values) error {
	got := q.Get(paramSecureHash)
	if got == "" {
		return ErrMissingSignature
	}
	v := url.Values{}
	for key, vals := range q {
		if key == paramSecureHash || key == paramSecureHashType {
			continue
		}
		for _, val := range vals {
			v.Add(key, val)
		}
	}
	want := Sign(c.cfg.HashSecret, v.Encode())
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex HMAC-SHA512 of the canonical query string.
// url.Values.Encode already emits keys in ASCII sort order with reserved
// characters percent-encoded, which is exactly the provider's rule.
func Sign(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
