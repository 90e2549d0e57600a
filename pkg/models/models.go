package models

import (
	"time"

	"github.com/google/uuid"
)

type Quota string

const (
	QuotaGovernment Quota = "government"
	QuotaManagement Quota = "management"
)

type EntryType string

const (
	EntryRegular EntryType = "regular"
	EntryLateral EntryType = "lateral"
)

type Student struct {
	ID          uuid.UUID `json:"id"`
	USN         string    `json:"usn"` // University seat number, unique
	Name        string    `json:"name"`
	Department  string    `json:"department"`
	CurrentYear int       `json:"currentYear"` // 1-4
	Quota       Quota     `json:"quota"`
	EntryType   EntryType `json:"entryType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FeeType is open-ended; these are the types the ledger knows about.
type FeeType string

const (
	FeeTypeCollege   FeeType = "college"
	FeeTypeTransport FeeType = "transport"
	FeeTypeExam      FeeType = "exam"
)

type FeeStatus string

const (
	FeeStatusPending FeeStatus = "pending"
	FeeStatusPartial FeeStatus = "partial"
	FeeStatusPaid    FeeStatus = "paid"
)

type FeeRecord struct {
	ID         uuid.UUID `json:"id"`
	StudentID  uuid.UUID `json:"studentId"`
	Year       int       `json:"year"`
	Semester   *int      `json:"semester,omitempty"`
	FeeType    FeeType   `json:"feeType"`
	AmountDue  int64     `json:"amountDue"`
	AmountPaid int64     `json:"amountPaid"`
	Status     FeeStatus `json:"status"`
	Version    int64     `json:"version"` // Bumped on every write, used for optimistic locking
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DeriveStatus is the only place a fee status is computed.
func DeriveStatus(due, paid int64) FeeStatus {
	switch {
	case paid >= due:
		return FeeStatusPaid
	case paid > 0:
		return FeeStatusPartial
	default:
		return FeeStatusPending
	}
}

// Balance is the outstanding amount, never negative.
func (r *FeeRecord) Balance() int64 {
	if r.AmountPaid >= r.AmountDue {
		return 0
	}
	return r.AmountDue - r.AmountPaid
}

// Refresh recomputes Status from the amounts.
func (r *FeeRecord) Refresh() {
	r.Status = DeriveStatus(r.AmountDue, r.AmountPaid)
}

type TransactionKind string

const (
	TransactionKindPayment    TransactionKind = "payment"
	TransactionKindAdjustment TransactionKind = "adjustment"
)

type PaymentMode string

const (
	PaymentModeCash       PaymentMode = "cash"
	PaymentModeDD         PaymentMode = "dd"
	PaymentModeOnline     PaymentMode = "online"
	PaymentModeGateway    PaymentMode = "gateway"
	PaymentModeAdjustment PaymentMode = "adjustment"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

type PaymentTransaction struct {
	ID                 uuid.UUID         `json:"id"`
	StudentID          uuid.UUID         `json:"studentId"`
	FeeRecordID        *uuid.UUID        `json:"feeRecordId,omitempty"`
	ExamNotificationID *uuid.UUID        `json:"examNotificationId,omitempty"`
	Kind               TransactionKind   `json:"kind"`
	Amount             int64             `json:"amount"`
	Mode               PaymentMode       `json:"mode"`
	Reference          string            `json:"reference,omitempty"`
	GatewayOrderID     *string           `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID   *string           `json:"gatewayPaymentId,omitempty"`
	GatewaySignature   *string           `json:"-"`
	Status             TransactionStatus `json:"status"`
	Note               string            `json:"note,omitempty"`
	Actor              string            `json:"actor,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
}

// ExamNotification is owned by the notification feed; the ledger only reads it.
type ExamNotification struct {
	ID          uuid.UUID `json:"id"`
	Year        int       `json:"year"`
	Semester    int       `json:"semester"`
	FeeAmount   int64     `json:"examFeeAmount"`
	LateFee     int64     `json:"lateFee"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	Description string    `json:"description,omitempty"`
}

// IsLate reports whether the late fee surcharge applies. It is a static flag on
// the notification, not derived from the payment date.
func (n *ExamNotification) IsLate() bool {
	return n.LateFee > 0
}

// TotalAmount is the amount a student must pay for this exam.
func (n *ExamNotification) TotalAmount() int64 {
	if n.IsLate() {
		return n.FeeAmount + n.LateFee
	}
	return n.FeeAmount
}

// WindowOpen reports whether t falls inside [StartDate, EndDate].
func (n *ExamNotification) WindowOpen(t time.Time) bool {
	return !t.Before(n.StartDate) && !t.After(n.EndDate)
}

// EligibilityResult is derived on every read and never persisted.
type EligibilityResult struct {
	IsEligible         bool     `json:"isEligible"`
	EligibleForOddSem  bool     `json:"eligibleForOddSem"`
	EligibleForEvenSem bool     `json:"eligibleForEvenSem"`
	Reasons            []string `json:"reasons"`
	TotalDue           int64    `json:"totalDue"`
	TotalPaid          int64    `json:"totalPaid"`
	PaidPercent        string   `json:"paidPercent"`
}
