package ledger

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bvce/edupay/pkg/models"
	"github.com/bvce/edupay/pkg/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// maxAttempts bounds the optimistic retries against writers outside the record lock.
const maxAttempts = 3

// Ledger is the only writer of amountDue and amountPaid.
type Ledger struct {
	storage store.Storage
	locks   *keyedMutex
	now     func() time.Time
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage) *Ledger {
	return &Ledger{
		storage: s,
		locks:   newKeyedMutex(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// PaymentInput is either a DirectSet or an Increment.
type PaymentInput interface {
	isPaymentInput()
}

// DirectSet overwrites due and/or paid amounts on a record. It is an administrative
// correction and is logged as an adjustment.
//
// The record is addressed by RecordID, or by StudentID and FeeType, in which case the
// student's current-year record without a semester is used and created if missing.
//
// Balance sets the outstanding amount instead: zero marks the record paid, any other
// value moves amountDue to amountPaid+Balance. It cannot be combined with the others.
type DirectSet struct {
	RecordID   *uuid.UUID
	StudentID  uuid.UUID
	FeeType    models.FeeType
	AmountDue  *int64
	AmountPaid *int64
	Balance    *int64
	Actor      string
}

// Increment adds a payment to a record.
type Increment struct {
	RecordID  uuid.UUID
	Amount    int64
	Mode      models.PaymentMode
	Reference string
	Actor     string
}

func (DirectSet) isPaymentInput() {}
func (Increment) isPaymentInput() {}

type Result struct {
	Record         *models.FeeRecord          `json:"record,omitempty"`
	Transaction    *models.PaymentTransaction `json:"transaction"`
	AlreadyApplied bool                       `json:"alreadyApplied"`
}

// ApplyPayment reconciles a fee record with a direct set or an incremental payment.
func (l *Ledger) ApplyPayment(in PaymentInput) (*Result, error) {
	switch v := in.(type) {
	case DirectSet:
		return l.applyDirectSet(v)
	case Increment:
		return l.applyIncrement(v, nil)
	default:
		return nil, errors.Errorf("unsupported payment input %T", in)
	}
}

func (l *Ledger) resolveRecordID(in DirectSet) (uuid.UUID, error) {
	if in.RecordID != nil {
		return *in.RecordID, nil
	}
	if in.FeeType != models.FeeTypeCollege && in.FeeType != models.FeeTypeTransport {
		return uuid.Nil, ErrInvalidFeeType
	}
	student, err := l.storage.GetStudent(in.StudentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, errors.Wrap(ErrStudentNotFound, in.StudentID.String())
		}
		return uuid.Nil, err
	}
	rec, err := l.storage.FindFeeRecord(student.ID, student.CurrentYear, nil, in.FeeType)
	if errors.Is(err, store.ErrNotFound) {
		// No record means nothing was due yet.
		rec, err = l.storage.UpsertFeeRecord(student.ID, student.CurrentYear, nil, in.FeeType, 0, l.now())
	}
	if err != nil {
		return uuid.Nil, err
	}
	return rec.ID, nil
}

func (l *Ledger) applyDirectSet(in DirectSet) (*Result, error) {
	if in.AmountDue == nil && in.AmountPaid == nil && in.Balance == nil {
		return nil, errors.Wrap(ErrInvalidAmount, "nothing to set")
	}
	if in.Balance != nil && (in.AmountDue != nil || in.AmountPaid != nil) {
		return nil, errors.Wrap(ErrInvalidAmount, "balance cannot be combined with due or paid")
	}
	for _, v := range []*int64{in.AmountDue, in.AmountPaid, in.Balance} {
		if v != nil && *v < 0 {
			return nil, ErrInvalidAmount
		}
	}

	recordID, err := l.resolveRecordID(in)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		res, err := l.directSetOnce(recordID, in)
		if errors.Is(err, store.ErrVersionConflict) && attempt < maxAttempts {
			continue
		}
		return res, err
	}
}

func (l *Ledger) directSetOnce(recordID uuid.UUID, in DirectSet) (*Result, error) {
	unlock := l.locks.Lock("record:" + recordID.String())
	defer unlock()

	rec, err := l.storage.GetFeeRecord(recordID)
	if err != nil {
		return nil, err
	}
	prevDue, prevPaid, version := rec.AmountDue, rec.AmountPaid, rec.Version

	if in.AmountDue != nil {
		rec.AmountDue = *in.AmountDue
	}
	if in.AmountPaid != nil {
		rec.AmountPaid = *in.AmountPaid
	}
	if in.Balance != nil {
		if *in.Balance == 0 {
			rec.AmountPaid = rec.AmountDue
		} else {
			rec.AmountDue = rec.AmountPaid + *in.Balance
		}
	}
	rec.Refresh()
	now := l.now()
	rec.UpdatedAt = now

	delta := rec.AmountPaid - prevPaid
	if delta < 0 {
		delta = -delta
	}
	entry := &models.PaymentTransaction{
		ID:          uuid.New(),
		StudentID:   rec.StudentID,
		FeeRecordID: &rec.ID,
		Kind:        models.TransactionKindAdjustment,
		Amount:      delta,
		Mode:        models.PaymentModeAdjustment,
		Status:      models.TransactionStatusCompleted,
		Note:        fmt.Sprintf("amountDue %d→%d, amountPaid %d→%d", prevDue, rec.AmountDue, prevPaid, rec.AmountPaid),
		Actor:       in.Actor,
		CreatedAt:   now,
		CompletedAt: &now,
	}

	if err := l.storage.CommitLedgerEntry(rec, version, entry); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"record_id":  rec.ID,
		"student_id": rec.StudentID,
		"fee_type":   rec.FeeType,
		"change":     entry.Note,
		"status":     rec.Status,
		"actor":      in.Actor,
	}).Info("Fee record adjusted")
	return &Result{Record: rec, Transaction: entry}, nil
}

func validateIncrement(in Increment, gateway bool) error {
	if in.Amount <= 0 {
		return ErrInvalidAmount
	}
	switch in.Mode {
	case models.PaymentModeCash:
	case models.PaymentModeDD, models.PaymentModeOnline:
		if strings.TrimSpace(in.Reference) == "" {
			return ErrInvalidReference
		}
	case models.PaymentModeGateway:
		if !gateway {
			return ErrInvalidMode
		}
	default:
		return ErrInvalidMode
	}
	return nil
}

// applyIncrement credits a record. When pending is set the gateway transaction already
// in the log is completed instead of appending a new one.
func (l *Ledger) applyIncrement(in Increment, pending *models.PaymentTransaction) (*Result, error) {
	if err := validateIncrement(in, pending != nil); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		res, err := l.incrementOnce(in, pending)
		if errors.Is(err, store.ErrVersionConflict) && attempt < maxAttempts {
			continue
		}
		return res, err
	}
}

func (l *Ledger) incrementOnce(in Increment, pending *models.PaymentTransaction) (*Result, error) {
	unlock := l.locks.Lock("record:" + in.RecordID.String())
	defer unlock()

	rec, err := l.storage.GetFeeRecord(in.RecordID)
	if err != nil {
		return nil, err
	}
	if rec.AmountPaid+in.Amount > rec.AmountDue {
		logrus.WithFields(logrus.Fields{
			"record_id": rec.ID,
			"amount":    in.Amount,
			"balance":   rec.Balance(),
		}).Warn("Payment rejected: exceeds balance")
		return nil, errors.Wrapf(ErrOverpaymentRejected, "balance is %d", rec.Balance())
	}

	version := rec.Version
	now := l.now()
	rec.AmountPaid += in.Amount
	rec.Refresh()
	rec.UpdatedAt = now

	var entry *models.PaymentTransaction
	if pending != nil {
		completed := *pending
		entry = &completed
	} else {
		entry = &models.PaymentTransaction{
			ID:        uuid.New(),
			StudentID: rec.StudentID,
			Kind:      models.TransactionKindPayment,
			Amount:    in.Amount,
			Mode:      in.Mode,
			Reference: strings.TrimSpace(in.Reference),
			Actor:     in.Actor,
			CreatedAt: now,
		}
	}
	entry.FeeRecordID = &rec.ID
	entry.Status = models.TransactionStatusCompleted
	entry.CompletedAt = &now

	if err := l.storage.CommitLedgerEntry(rec, version, entry); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"record_id":      rec.ID,
		"student_id":     rec.StudentID,
		"amount":         in.Amount,
		"mode":           in.Mode,
		"amount_paid":    rec.AmountPaid,
		"amount_due":     rec.AmountDue,
		"status":         rec.Status,
		"transaction_id": entry.ID,
	}).Info("Payment applied")
	return &Result{Record: rec, Transaction: entry}, nil
}

// ConfirmGatewayPayment completes a gateway order whose signature has already been
// verified. Confirming the same order and payment twice credits the ledger once.
func (l *Ledger) ConfirmGatewayPayment(orderID, paymentID, signature string) (*Result, error) {
	unlock := l.locks.Lock("order:" + orderID)
	defer unlock()

	pending, err := l.storage.GetTransactionByOrderID(orderID)
	if err != nil {
		return nil, err
	}

	switch pending.Status {
	case models.TransactionStatusCompleted:
		if pending.GatewayPaymentID == nil || *pending.GatewayPaymentID != paymentID {
			return nil, ErrConflictingConfirmation
		}
		res := &Result{Transaction: pending, AlreadyApplied: true}
		if pending.FeeRecordID != nil {
			if res.Record, err = l.storage.GetFeeRecord(*pending.FeeRecordID); err != nil {
				return nil, err
			}
		}
		return res, nil
	case models.TransactionStatusFailed:
		return nil, errors.Wrap(ErrOrderClosed, pending.Note)
	}

	pending.GatewayPaymentID = &paymentID
	pending.GatewaySignature = &signature

	if pending.FeeRecordID == nil {
		return l.completeStandalone(pending)
	}

	res, err := l.applyIncrement(Increment{
		RecordID:  *pending.FeeRecordID,
		Amount:    pending.Amount,
		Mode:      models.PaymentModeGateway,
		Reference: paymentID,
		Actor:     pending.Actor,
	}, pending)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, store.ErrDuplicate):
		// The pending row was resolved underneath us (expired), nothing was credited.
		return nil, ErrOrderClosed
	case errors.Is(err, ErrOverpaymentRejected), errors.Is(err, ErrInvalidAmount), errors.Is(err, store.ErrNotFound):
		l.failPending(pending, err)
		return nil, err
	default:
		return nil, err
	}
}

// completeStandalone completes a payment that does not map to a fee record, such as an
// exam fee tied to an exam notification.
func (l *Ledger) completeStandalone(pending *models.PaymentTransaction) (*Result, error) {
	now := l.now()
	pending.Status = models.TransactionStatusCompleted
	pending.CompletedAt = &now
	if err := l.storage.ResolvePendingTransaction(pending); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, ErrOrderClosed
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id":       pending.ID,
		"student_id":           pending.StudentID,
		"exam_notification_id": pending.ExamNotificationID,
		"amount":               pending.Amount,
	}).Info("Standalone payment completed")
	return &Result{Transaction: pending}, nil
}

// failPending closes a verified order that the ledger refused, keeping the reason in the log.
func (l *Ledger) failPending(pending *models.PaymentTransaction, cause error) {
	now := l.now()
	pending.Status = models.TransactionStatusFailed
	pending.Note = cause.Error()
	pending.CompletedAt = &now
	if err := l.storage.ResolvePendingTransaction(pending); err != nil {
		logrus.WithError(err).WithField("transaction_id", pending.ID).Error("Failed to mark rejected order as failed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"transaction_id": pending.ID,
		"order_id":       *pending.GatewayOrderID,
		"reason":         pending.Note,
	}).Warn("Verified payment rejected by ledger")
}

// GetRecords returns a student's fee records ordered by year then semester.
func (l *Ledger) GetRecords(studentID uuid.UUID) ([]*models.FeeRecord, error) {
	return l.storage.GetFeeRecordsForStudent(studentID)
}
