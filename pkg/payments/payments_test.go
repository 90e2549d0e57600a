package payments

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bvce/edupay/pkg/eligibility"
	"github.com/bvce/edupay/pkg/gateway"
	"github.com/bvce/edupay/pkg/ledger"
	"github.com/bvce/edupay/pkg/models"
	"github.com/bvce/edupay/pkg/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test_secret"

// fakeGateway issues sequential order ids and verifies with the real signature scheme.
type fakeGateway struct {
	mu     sync.Mutex
	orders int
	fail   error
}

func (g *fakeGateway) CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return nil, g.fail
	}
	g.orders++
	return &gateway.Order{ID: fmt.Sprintf("order_%d", g.orders), Amount: amount, Currency: currency}, nil
}

func (g *fakeGateway) Verify(orderID, paymentID, signature string) error {
	if signature != gateway.Signature(testSecret, orderID, paymentID) {
		return gateway.ErrVerificationFailed
	}
	return nil
}

func (g *fakeGateway) PublicKey() string { return "rzp_test" }

type fixture struct {
	store   *store.SQLiteStore
	ledger  *ledger.Ledger
	gateway *fakeGateway
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "payments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	l := ledger.NewLedger(s)
	g := &fakeGateway{}
	return &fixture{store: s, ledger: l, gateway: g, svc: NewService(s, l, g, "INR")}
}

func (f *fixture) student(t *testing.T, usn string, quota models.Quota, year int) *models.Student {
	t.Helper()
	st := &models.Student{USN: usn, Name: usn, Department: "CSE", CurrentYear: year, Quota: quota}
	require.NoError(t, f.store.CreateStudent(st))
	return st
}

func (f *fixture) pay(t *testing.T, st *models.Student, orderID string, amount int64, pt PaymentType, exam *uuid.UUID) (*ledger.Result, error) {
	t.Helper()
	paymentID := "pay_" + orderID
	return f.svc.Verify(st.ID, VerifyRequest{
		OrderID:            orderID,
		PaymentID:          paymentID,
		Signature:          gateway.Signature(testSecret, orderID, paymentID),
		PaymentType:        pt,
		Amount:             amount,
		ExamNotificationID: exam,
	})
}

func TestEndToEnd_ConfigurePayAndAdjust(t *testing.T) {
	f := newFixture(t)
	a := f.student(t, "1BV23CS001", models.QuotaGovernment, 2)
	b := f.student(t, "1BV23CS002", models.QuotaGovernment, 2)

	res, err := f.ledger.ConfigureFee(ledger.FeeConfig{Quota: models.QuotaGovernment, Year: 2, Amount: 15000})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	for _, st := range []*models.Student{a, b} {
		rec, err := f.store.FindFeeRecord(st.ID, 2, nil, models.FeeTypeCollege)
		require.NoError(t, err)
		assert.Equal(t, models.FeeStatusPending, rec.Status)
		assert.Equal(t, int64(15000), rec.AmountDue)
		assert.Equal(t, int64(0), rec.AmountPaid)
	}

	order, err := f.svc.CreateOrder(context.Background(), a.ID, OrderRequest{Amount: 15000, PaymentType: CollegeFee})
	require.NoError(t, err)
	assert.Equal(t, "INR", order.Currency)

	result, err := f.pay(t, a, order.ID, 15000, CollegeFee, nil)
	require.NoError(t, err)
	assert.Equal(t, models.FeeStatusPaid, result.Record.Status)

	records, _ := f.store.GetFeeRecordsForStudent(a.ID)
	assert.True(t, eligibility.Evaluate(a, records, eligibility.Even).IsEligible)

	// Mark transport as paid without touching college.
	due, paid := int64(3000), int64(3000)
	adj, err := f.ledger.ApplyPayment(ledger.DirectSet{StudentID: a.ID, FeeType: models.FeeTypeTransport, AmountDue: &due, AmountPaid: &paid})
	require.NoError(t, err)
	assert.Equal(t, models.FeeStatusPaid, adj.Record.Status)

	college, _ := f.store.FindFeeRecord(a.ID, 2, nil, models.FeeTypeCollege)
	assert.Equal(t, result.Record.ID, college.ID)
	assert.Equal(t, int64(15000), college.AmountPaid)
	assert.Equal(t, models.FeeStatusPaid, college.Status)

	// The other student is untouched.
	other, _ := f.store.FindFeeRecord(b.ID, 2, nil, models.FeeTypeCollege)
	assert.Equal(t, int64(0), other.AmountPaid)
}

func TestVerify_Idempotent(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "ID1", models.QuotaGovernment, 1)
	_, err := f.store.UpsertFeeRecord(st.ID, 1, nil, models.FeeTypeCollege, 10000, time.Now())
	require.NoError(t, err)

	order, err := f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 4000, PaymentType: CollegeFee})
	require.NoError(t, err)

	first, err := f.pay(t, st, order.ID, 4000, CollegeFee, nil)
	require.NoError(t, err)
	assert.False(t, first.AlreadyApplied)

	second, err := f.pay(t, st, order.ID, 4000, CollegeFee, nil)
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)

	rec, _ := f.store.FindFeeRecord(st.ID, 1, nil, models.FeeTypeCollege)
	assert.Equal(t, int64(4000), rec.AmountPaid)
	assert.Equal(t, models.FeeStatusPartial, rec.Status)
}

func TestVerify_BadSignature(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "BS1", models.QuotaGovernment, 1)
	_, err := f.store.UpsertFeeRecord(st.ID, 1, nil, models.FeeTypeCollege, 10000, time.Now())
	require.NoError(t, err)

	order, err := f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 10000, PaymentType: CollegeFee})
	require.NoError(t, err)

	_, err = f.svc.Verify(st.ID, VerifyRequest{OrderID: order.ID, PaymentID: "pay_1", Signature: "forged", PaymentType: CollegeFee, Amount: 10000})
	assert.True(t, errors.Is(err, gateway.ErrVerificationFailed))

	rec, _ := f.store.FindFeeRecord(st.ID, 1, nil, models.FeeTypeCollege)
	assert.Equal(t, int64(0), rec.AmountPaid)

	history, err := f.svc.History(st.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.TransactionStatusFailed, history[0].Status)
	assert.Equal(t, models.TransactionStatusPending, history[1].Status)

	// The order stays payable with a genuine confirmation.
	_, err = f.pay(t, st, order.ID, 10000, CollegeFee, nil)
	require.NoError(t, err)
}

func TestVerify_MismatchedRequest(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "MM1", models.QuotaGovernment, 1)
	_, err := f.store.UpsertFeeRecord(st.ID, 1, nil, models.FeeTypeCollege, 10000, time.Now())
	require.NoError(t, err)
	order, err := f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 500, PaymentType: CollegeFee})
	require.NoError(t, err)

	_, err = f.pay(t, st, order.ID, 9000, CollegeFee, nil)
	assert.True(t, errors.Is(err, gateway.ErrVerificationFailed), "amount mismatch: %v", err)

	_, err = f.pay(t, st, order.ID, 500, TransportFee, nil)
	assert.True(t, errors.Is(err, gateway.ErrVerificationFailed), "type mismatch: %v", err)

	intruder := f.student(t, "MM2", models.QuotaGovernment, 1)
	_, err = f.pay(t, intruder, order.ID, 500, CollegeFee, nil)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	rec, _ := f.store.FindFeeRecord(st.ID, 1, nil, models.FeeTypeCollege)
	assert.Equal(t, int64(0), rec.AmountPaid)
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "CO1", models.QuotaManagement, 1)
	rec, err := f.store.UpsertFeeRecord(st.ID, 1, nil, models.FeeTypeCollege, 1000, time.Now())
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 0, PaymentType: CollegeFee})
	assert.True(t, errors.Is(err, ledger.ErrInvalidAmount))

	_, err = f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 1001, PaymentType: CollegeFee})
	assert.True(t, errors.Is(err, ledger.ErrOverpaymentRejected))

	_, err = f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 100, PaymentType: TransportFee})
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 100, PaymentType: "hostel_fee"})
	assert.True(t, errors.Is(err, ErrInvalidPaymentType))

	_, err = f.svc.CreateOrder(context.Background(), uuid.New(), OrderRequest{Amount: 100, PaymentType: CollegeFee})
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 100, PaymentType: TransportFee, FeeRecordID: &rec.ID})
	assert.True(t, errors.Is(err, store.ErrNotFound), "record type must match payment type")

	f.gateway.fail = errors.New("gateway timeout")
	_, err = f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 100, PaymentType: CollegeFee})
	assert.Error(t, err)

	history, _ := f.svc.History(st.ID)
	assert.Empty(t, history, "rejected orders leave no transactions")
}

func TestExamFee_Flow(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	st := f.student(t, "EX1", models.QuotaGovernment, 2)
	rec, err := f.store.UpsertFeeRecord(st.ID, 2, nil, models.FeeTypeCollege, 10000, now)
	require.NoError(t, err)
	_, err = f.ledger.ApplyPayment(ledger.Increment{RecordID: rec.ID, Amount: 5000, Mode: models.PaymentModeCash})
	require.NoError(t, err)

	odd := &models.ExamNotification{Year: 2, Semester: 3, FeeAmount: 1500, LateFee: 200, StartDate: now.AddDate(0, 0, -1), EndDate: now.AddDate(0, 0, 7)}
	even := &models.ExamNotification{Year: 2, Semester: 4, FeeAmount: 1500, StartDate: now.AddDate(0, 0, -1), EndDate: now.AddDate(0, 0, 7)}
	closed := &models.ExamNotification{Year: 2, Semester: 3, FeeAmount: 1500, StartDate: now.AddDate(0, 0, -10), EndDate: now.AddDate(0, 0, -3)}
	for _, n := range []*models.ExamNotification{odd, even, closed} {
		require.NoError(t, f.store.CreateExamNotification(n))
	}

	fees, err := f.svc.ExamFees(st.ID)
	require.NoError(t, err)
	require.Len(t, fees, 3)
	byID := map[uuid.UUID]ExamFeeView{}
	for _, fee := range fees {
		byID[fee.ID] = fee
	}
	assert.True(t, byID[odd.ID].Payable)
	assert.True(t, byID[odd.ID].IsLate)
	assert.Equal(t, int64(1700), byID[odd.ID].TotalAmount)
	assert.False(t, byID[even.ID].Payable, "even semester requires full payment")
	assert.False(t, byID[closed.ID].Payable)
	assert.Equal(t, "payment window has closed", byID[closed.ID].Reason)

	_, err = f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 1500, PaymentType: ExamFee, ExamNotificationID: &odd.ID})
	assert.True(t, errors.Is(err, ErrExamNotPayable), "late fee must be included")

	_, err = f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 1500, PaymentType: ExamFee, ExamNotificationID: &even.ID})
	assert.True(t, errors.Is(err, ErrExamNotPayable))

	order, err := f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 1700, PaymentType: ExamFee, ExamNotificationID: &odd.ID})
	require.NoError(t, err)

	res, err := f.pay(t, st, order.ID, 1700, ExamFee, &odd.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Record, "exam fees do not map to a fee record")
	assert.Equal(t, models.TransactionStatusCompleted, res.Transaction.Status)
	assert.Equal(t, odd.ID, *res.Transaction.ExamNotificationID)

	fees, err = f.svc.ExamFees(st.ID)
	require.NoError(t, err)
	for _, fee := range fees {
		if fee.ID == odd.ID {
			assert.True(t, fee.Paid)
			assert.False(t, fee.Payable)
		}
	}

	_, err = f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 1700, PaymentType: ExamFee, ExamNotificationID: &odd.ID})
	assert.True(t, errors.Is(err, ErrExamNotPayable), "already paid")

	// College dues are unaffected by exam payments.
	stored, _ := f.store.GetFeeRecord(rec.ID)
	assert.Equal(t, int64(5000), stored.AmountPaid)
}

func TestExpireStaleOrders(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "EXP1", models.QuotaGovernment, 1)
	_, err := f.store.UpsertFeeRecord(st.ID, 1, nil, models.FeeTypeCollege, 10000, time.Now())
	require.NoError(t, err)

	order, err := f.svc.CreateOrder(context.Background(), st.ID, OrderRequest{Amount: 2000, PaymentType: CollegeFee})
	require.NoError(t, err)

	n, err := f.svc.ExpireStaleOrders(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "fresh orders are kept")

	f.svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	n, err = f.svc.ExpireStaleOrders(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.pay(t, st, order.ID, 2000, CollegeFee, nil)
	assert.True(t, errors.Is(err, ledger.ErrOrderClosed), "got %v", err)

	rec, _ := f.store.FindFeeRecord(st.ID, 1, nil, models.FeeTypeCollege)
	assert.Equal(t, int64(0), rec.AmountPaid)
}
