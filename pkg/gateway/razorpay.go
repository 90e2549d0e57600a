package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// subunits per currency unit on the wire (paise per rupee).
const subunits = 100

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Razorpay implements Gateway against the Razorpay orders API.
type Razorpay struct {
	cfg    Config
	client *http.Client
}

func NewRazorpay(cfg Config) *Razorpay {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.razorpay.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Razorpay{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (r *Razorpay) CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Order, error) {
	if amount <= 0 {
		return nil, errors.Errorf("order amount must be positive, got %d", amount)
	}

	// Receipts are capped at 40 characters by the gateway.
	receipt := "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	body, err := json.Marshal(orderRequest{
		Amount:   amount * subunits,
		Currency: currency,
		Receipt:  receipt,
		Notes:    metadata,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.cfg.BaseURL, "/")+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(r.cfg.KeyID, r.cfg.KeySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "gateway order request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read gateway response")
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		logrus.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"code":   e.Error.Code,
		}).Error("Gateway rejected order")
		return nil, errors.Errorf("gateway returned %d: %s", resp.StatusCode, e.Error.Description)
	}

	var out orderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "failed to decode gateway order")
	}
	if out.ID == "" {
		return nil, errors.New("gateway returned an order without id")
	}

	logrus.WithFields(logrus.Fields{
		"order_id": out.ID,
		"amount":   amount,
		"currency": out.Currency,
	}).Info("Gateway order created")
	return &Order{ID: out.ID, Amount: out.Amount / subunits, Currency: out.Currency, Receipt: out.Receipt}, nil
}

// Signature returns the hex HMAC-SHA256 of "orderID|paymentID" under secret.
func Signature(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (r *Razorpay) Verify(orderID, paymentID, signature string) error {
	if orderID == "" || paymentID == "" || signature == "" {
		return ErrVerificationFailed
	}
	expected := Signature(r.cfg.KeySecret, orderID, paymentID)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrVerificationFailed
	}
	return nil
}

func (r *Razorpay) PublicKey() string {
	return r.cfg.KeyID
}
