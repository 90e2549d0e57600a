// Package gateway talks to the hosted payment gateway. It creates orders and verifies
// the signed confirmations the checkout widget hands back; it never touches the ledger.
package gateway

import (
	"context"

	"github.com/pkg/errors"
)

// ErrVerificationFailed covers bad signatures and gateway calls that did not complete.
var ErrVerificationFailed = errors.New("payment verification failed")

type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
}

type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Order, error)
	Verify(orderID, paymentID, signature string) error
	PublicKey() string
}
