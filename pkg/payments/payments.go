// Package payments runs the student-facing gateway flow: order creation, signature
// verification and exam fee payability. Ledger credit goes through ledger.Ledger only.
package payments

import (
	"context"
	"time"

	"github.com/bvce/edupay/pkg/eligibility"
	"github.com/bvce/edupay/pkg/gateway"
	"github.com/bvce/edupay/pkg/ledger"
	"github.com/bvce/edupay/pkg/models"
	"github.com/bvce/edupay/pkg/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type PaymentType string

const (
	CollegeFee   PaymentType = "college_fee"
	TransportFee PaymentType = "transport_fee"
	ExamFee      PaymentType = "exam_fee"
)

var (
	ErrExamNotPayable     = errors.New("exam fee is not payable")
	ErrInvalidPaymentType = errors.New("payment type must be college_fee, transport_fee or exam_fee")
)

func (p PaymentType) feeType() (models.FeeType, bool) {
	switch p {
	case CollegeFee:
		return models.FeeTypeCollege, true
	case TransportFee:
		return models.FeeTypeTransport, true
	}
	return "", false
}

type OrderRequest struct {
	Amount             int64
	PaymentType        PaymentType
	FeeRecordID        *uuid.UUID
	ExamNotificationID *uuid.UUID
}

type VerifyRequest struct {
	OrderID            string
	PaymentID          string
	Signature          string
	PaymentType        PaymentType
	Amount             int64
	ExamNotificationID *uuid.UUID
}

// ExamFeeView is an exam notification as seen by one student.
type ExamFeeView struct {
	*models.ExamNotification
	TotalAmount int64  `json:"totalAmount"`
	IsLate      bool   `json:"isLate"`
	WindowOpen  bool   `json:"windowOpen"`
	Eligible    bool   `json:"eligible"`
	Paid        bool   `json:"paid"`
	Payable     bool   `json:"payable"`
	Reason      string `json:"reason,omitempty"`
}

type Service struct {
	storage  store.Storage
	ledger   *ledger.Ledger
	gateway  gateway.Gateway
	currency string
	now      func() time.Time
}

func NewService(s store.Storage, l *ledger.Ledger, g gateway.Gateway, currency string) *Service {
	return &Service{
		storage:  s,
		ledger:   l,
		gateway:  g,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) PublicKey() string {
	return s.gateway.PublicKey()
}

// CreateOrder checks that the student may pay the amount, opens a gateway order and
// logs it as a pending transaction. No fee record changes here.
func (s *Service) CreateOrder(ctx context.Context, studentID uuid.UUID, req OrderRequest) (*gateway.Order, error) {
	if req.Amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	student, err := s.storage.GetStudent(studentID)
	if err != nil {
		return nil, err
	}

	pending := &models.PaymentTransaction{
		StudentID: student.ID,
		Kind:      models.TransactionKindPayment,
		Amount:    req.Amount,
		Mode:      models.PaymentModeGateway,
		Status:    models.TransactionStatusPending,
		Actor:     student.USN,
	}
	metadata := map[string]string{"usn": student.USN, "paymentType": string(req.PaymentType)}

	if req.PaymentType == ExamFee {
		if req.ExamNotificationID == nil {
			return nil, errors.Wrap(ErrExamNotPayable, "exam notification is required")
		}
		n, err := s.storage.GetExamNotification(*req.ExamNotificationID)
		if err != nil {
			return nil, err
		}
		fee, err := s.examFee(student, n)
		if err != nil {
			return nil, err
		}
		if !fee.Payable {
			return nil, errors.Wrap(ErrExamNotPayable, fee.Reason)
		}
		if req.Amount != fee.TotalAmount {
			return nil, errors.Wrapf(ErrExamNotPayable, "amount must be %d", fee.TotalAmount)
		}
		pending.ExamNotificationID = &n.ID
		metadata["examNotificationId"] = n.ID.String()
	} else {
		feeType, ok := req.PaymentType.feeType()
		if !ok {
			return nil, ErrInvalidPaymentType
		}
		rec, err := s.targetRecord(student, feeType, req.FeeRecordID)
		if err != nil {
			return nil, err
		}
		if req.Amount > rec.Balance() {
			return nil, errors.Wrapf(ledger.ErrOverpaymentRejected, "balance is %d", rec.Balance())
		}
		pending.FeeRecordID = &rec.ID
		metadata["feeRecordId"] = rec.ID.String()
	}

	order, err := s.gateway.CreateOrder(ctx, req.Amount, s.currency, metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gateway order")
	}
	pending.GatewayOrderID = &order.ID
	pending.CreatedAt = s.now()
	if err := s.storage.CreateTransaction(pending); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"usn":          student.USN,
		"payment_type": req.PaymentType,
		"amount":       req.Amount,
	}).Info("Payment order created")
	return order, nil
}

// targetRecord returns the given record if it belongs to the student, or the first
// record of feeType with an outstanding balance.
func (s *Service) targetRecord(student *models.Student, feeType models.FeeType, recordID *uuid.UUID) (*models.FeeRecord, error) {
	if recordID != nil {
		rec, err := s.storage.GetFeeRecord(*recordID)
		if err != nil {
			return nil, err
		}
		if rec.StudentID != student.ID || rec.FeeType != feeType {
			return nil, errors.Wrap(store.ErrNotFound, "fee record")
		}
		return rec, nil
	}

	records, err := s.storage.GetFeeRecordsForStudent(student.ID)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.FeeType == feeType && rec.Balance() > 0 {
			return rec, nil
		}
	}
	return nil, errors.Wrapf(store.ErrNotFound, "no outstanding %s fee", feeType)
}

// Verify checks the gateway signature and only then hands the order to the ledger.
func (s *Service) Verify(studentID uuid.UUID, req VerifyRequest) (*ledger.Result, error) {
	pending, err := s.storage.GetTransactionByOrderID(req.OrderID)
	if err != nil {
		return nil, err
	}
	if pending.StudentID != studentID {
		return nil, errors.Wrap(store.ErrNotFound, "order")
	}

	fields := logrus.Fields{
		"order_id":   req.OrderID,
		"payment_id": req.PaymentID,
		"student_id": studentID,
	}

	if err := s.gateway.Verify(req.OrderID, req.PaymentID, req.Signature); err != nil {
		s.recordFailure(pending, req, "signature verification failed")
		logrus.WithFields(fields).Warn("Payment signature rejected")
		return nil, gateway.ErrVerificationFailed
	}

	if err := s.matchOrder(pending, req); err != nil {
		s.recordFailure(pending, req, err.Error())
		logrus.WithFields(fields).WithError(err).Warn("Payment does not match order")
		return nil, errors.Wrap(gateway.ErrVerificationFailed, err.Error())
	}

	res, err := s.ledger.ConfirmGatewayPayment(req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(fields).WithField("already_applied", res.AlreadyApplied).Info("Payment verified")
	return res, nil
}

func (s *Service) matchOrder(pending *models.PaymentTransaction, req VerifyRequest) error {
	if req.Amount != pending.Amount {
		return errors.Errorf("amount %d does not match order amount %d", req.Amount, pending.Amount)
	}
	if pending.ExamNotificationID != nil {
		if req.PaymentType != ExamFee || req.ExamNotificationID == nil || *req.ExamNotificationID != *pending.ExamNotificationID {
			return errors.New("order was created for a different exam")
		}
		return nil
	}
	feeType, ok := req.PaymentType.feeType()
	if !ok || pending.FeeRecordID == nil {
		return errors.New("payment type does not match order")
	}
	rec, err := s.storage.GetFeeRecord(*pending.FeeRecordID)
	if err != nil {
		return err
	}
	if rec.FeeType != feeType {
		return errors.New("payment type does not match order")
	}
	return nil
}

// recordFailure appends a failed audit row; the pending order itself stays open.
func (s *Service) recordFailure(pending *models.PaymentTransaction, req VerifyRequest, reason string) {
	now := s.now()
	orderID, paymentID := req.OrderID, req.PaymentID
	audit := &models.PaymentTransaction{
		StudentID:          pending.StudentID,
		FeeRecordID:        pending.FeeRecordID,
		ExamNotificationID: pending.ExamNotificationID,
		Kind:               models.TransactionKindPayment,
		Amount:             req.Amount,
		Mode:               models.PaymentModeGateway,
		GatewayOrderID:     &orderID,
		GatewayPaymentID:   &paymentID,
		Status:             models.TransactionStatusFailed,
		Note:               reason,
		Actor:              pending.Actor,
		CreatedAt:          now,
		CompletedAt:        &now,
	}
	if err := s.storage.CreateTransaction(audit); err != nil {
		logrus.WithError(err).WithField("order_id", orderID).Error("Failed to record failed payment")
	}
}

// History returns the student's transactions, newest first.
func (s *Service) History(studentID uuid.UUID) ([]*models.PaymentTransaction, error) {
	return s.storage.GetTransactionsForStudent(studentID)
}

// ExamFees lists the current-year exam notifications with the student's payability.
func (s *Service) ExamFees(studentID uuid.UUID) ([]ExamFeeView, error) {
	student, err := s.storage.GetStudent(studentID)
	if err != nil {
		return nil, err
	}
	notifications, err := s.storage.ListExamNotifications(student.CurrentYear)
	if err != nil {
		return nil, err
	}
	fees := make([]ExamFeeView, 0, len(notifications))
	for _, n := range notifications {
		fee, err := s.examFee(student, n)
		if err != nil {
			return nil, err
		}
		fees = append(fees, *fee)
	}
	return fees, nil
}

func (s *Service) examFee(student *models.Student, n *models.ExamNotification) (*ExamFeeView, error) {
	records, err := s.storage.GetFeeRecordsForStudent(student.ID)
	if err != nil {
		return nil, err
	}
	txs, err := s.storage.GetTransactionsForStudent(student.ID)
	if err != nil {
		return nil, err
	}

	result := eligibility.Evaluate(student, records, eligibility.ParityOf(n.Semester))
	fee := &ExamFeeView{
		ExamNotification: n,
		TotalAmount:      n.TotalAmount(),
		IsLate:           n.IsLate(),
		WindowOpen:       n.WindowOpen(s.now()),
		Eligible:         result.IsEligible,
	}
	for _, t := range txs {
		if t.Status == models.TransactionStatusCompleted && t.ExamNotificationID != nil && *t.ExamNotificationID == n.ID {
			fee.Paid = true
			break
		}
	}

	switch {
	case n.Year != student.CurrentYear:
		fee.Reason = "exam is not for the student's current year"
	case fee.Paid:
		fee.Reason = "already paid"
	case s.now().Before(n.StartDate):
		fee.Reason = "payment window has not opened"
	case !fee.WindowOpen:
		fee.Reason = "payment window has closed"
	case !fee.Eligible:
		if eligibility.ParityOf(n.Semester) == eligibility.Odd {
			fee.Reason = "at least 50% of fees must be paid"
		} else {
			fee.Reason = "all fees must be paid"
		}
	default:
		fee.Payable = true
	}
	return fee, nil
}

// ExpireStaleOrders fails pending orders older than ttl so they can never be credited.
func (s *Service) ExpireStaleOrders(ttl time.Duration) (int64, error) {
	n, err := s.storage.ExpirePendingTransactions(s.now().Add(-ttl))
	if err != nil {
		return 0, errors.Wrap(err, "failed to expire orders")
	}
	if n > 0 {
		logrus.WithFields(logrus.Fields{"expired": n, "ttl": ttl.String()}).Info("Stale payment orders expired")
	}
	return n, nil
}
