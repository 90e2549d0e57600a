package ledger

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bvce/edupay/pkg/models"
	"github.com/bvce/edupay/pkg/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MockStore is an in-memory implementation of the Storage interface for testing.
// It stores copies so callers cannot mutate state without committing.
type MockStore struct {
	mu            sync.Mutex
	students      map[uuid.UUID]models.Student
	records       map[uuid.UUID]models.FeeRecord
	transactions  []models.PaymentTransaction
	notifications map[uuid.UUID]models.ExamNotification

	failUpsertFor map[uuid.UUID]error
	commits       int
}

func NewMockStore() *MockStore {
	return &MockStore{
		students:      make(map[uuid.UUID]models.Student),
		records:       make(map[uuid.UUID]models.FeeRecord),
		notifications: make(map[uuid.UUID]models.ExamNotification),
		failUpsertFor: make(map[uuid.UUID]error),
	}
}

func (m *MockStore) CreateStudent(s *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.USN = strings.ToUpper(s.USN)
	for _, existing := range m.students {
		if existing.USN == s.USN {
			return store.ErrDuplicate
		}
	}
	m.students[s.ID] = *s
	return nil
}

func (m *MockStore) GetStudent(id uuid.UUID) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (m *MockStore) GetStudentByUSN(usn string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.USN == strings.ToUpper(strings.TrimSpace(usn)) {
			s := s
			return &s, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) SearchStudents(query string) ([]*models.Student, error) {
	s, err := m.GetStudentByUSN(query)
	if err != nil {
		return nil, nil
	}
	return []*models.Student{s}, nil
}

func (m *MockStore) GetStudentsByCohort(quota models.Quota, year int) ([]*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Student
	for _, s := range m.students {
		if s.Quota == quota && s.CurrentYear == year {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].USN < out[j].USN })
	return out, nil
}

func (m *MockStore) GetFeeRecord(id uuid.UUID) (*models.FeeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func sameSemester(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *MockStore) findLocked(studentID uuid.UUID, year int, semester *int, feeType models.FeeType) (models.FeeRecord, bool) {
	for _, r := range m.records {
		if r.StudentID == studentID && r.Year == year && sameSemester(r.Semester, semester) && r.FeeType == feeType {
			return r, true
		}
	}
	return models.FeeRecord{}, false
}

func (m *MockStore) FindFeeRecord(studentID uuid.UUID, year int, semester *int, feeType models.FeeType) (*models.FeeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.findLocked(studentID, year, semester, feeType)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (m *MockStore) GetFeeRecordsForStudent(studentID uuid.UUID) ([]*models.FeeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FeeRecord
	for _, r := range m.records {
		if r.StudentID == studentID {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		if out[i].Semester == nil || out[j].Semester == nil {
			return out[j].Semester == nil && out[i].Semester != nil
		}
		return *out[i].Semester < *out[j].Semester
	})
	return out, nil
}

func (m *MockStore) UpsertFeeRecord(studentID uuid.UUID, year int, semester *int, feeType models.FeeType, amountDue int64, at time.Time) (*models.FeeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failUpsertFor[studentID]; ok {
		return nil, err
	}
	if _, ok := m.students[studentID]; !ok {
		return nil, store.ErrNotFound
	}
	r, ok := m.findLocked(studentID, year, semester, feeType)
	if !ok {
		r = models.FeeRecord{ID: uuid.New(), StudentID: studentID, Year: year, Semester: semester, FeeType: feeType, CreatedAt: at}
	}
	r.AmountDue = amountDue
	r.Refresh()
	r.Version++
	r.UpdatedAt = at
	m.records[r.ID] = r
	return &r, nil
}

func (m *MockStore) CommitLedgerEntry(record *models.FeeRecord, expectedVersion int64, entry *models.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[record.ID]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	if entry != nil {
		if err := m.writeEntryLocked(entry); err != nil {
			return err
		}
	}
	record.Version = expectedVersion + 1
	m.records[record.ID] = *record
	m.commits++
	return nil
}

func (m *MockStore) writeEntryLocked(entry *models.PaymentTransaction) error {
	for i, t := range m.transactions {
		if t.ID != entry.ID {
			continue
		}
		if t.Status != models.TransactionStatusPending {
			return store.ErrDuplicate
		}
		m.transactions[i] = *entry
		return nil
	}
	m.transactions = append(m.transactions, *entry)
	return nil
}

func (m *MockStore) CreateTransaction(t *models.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	m.transactions = append(m.transactions, *t)
	return nil
}

func (m *MockStore) GetTransactionByOrderID(orderID string) (*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transactions {
		if t.GatewayOrderID != nil && *t.GatewayOrderID == orderID {
			t := t
			return &t, nil
		}
	}
	return nil, errors.Wrap(store.ErrNotFound, orderID)
}

func (m *MockStore) GetTransactionsForStudent(studentID uuid.UUID) ([]*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PaymentTransaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if t := m.transactions[i]; t.StudentID == studentID {
			out = append(out, &t)
		}
	}
	return out, nil
}

func (m *MockStore) GetTransactionsForFeeRecord(recordID uuid.UUID) ([]*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PaymentTransaction
	for _, t := range m.transactions {
		if t.FeeRecordID != nil && *t.FeeRecordID == recordID {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

func (m *MockStore) ResolvePendingTransaction(t *models.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.transactions {
		if existing.ID == t.ID {
			if existing.Status != models.TransactionStatusPending {
				return store.ErrVersionConflict
			}
			m.transactions[i] = *t
			return nil
		}
	}
	return store.ErrVersionConflict
}

func (m *MockStore) ExpirePendingTransactions(before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i, t := range m.transactions {
		if t.Status == models.TransactionStatusPending && t.GatewayOrderID != nil && t.CreatedAt.Before(before) {
			m.transactions[i].Status = models.TransactionStatusFailed
			m.transactions[i].Note = "order expired"
			n++
		}
	}
	return n, nil
}

func (m *MockStore) CreateExamNotification(n *models.ExamNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	m.notifications[n.ID] = *n
	return nil
}

func (m *MockStore) GetExamNotification(id uuid.UUID) (*models.ExamNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (m *MockStore) ListExamNotifications(year int) ([]*models.ExamNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ExamNotification
	for _, n := range m.notifications {
		if n.Year == year {
			n := n
			out = append(out, &n)
		}
	}
	return out, nil
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) transactionsSnapshot() []models.PaymentTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PaymentTransaction(nil), m.transactions...)
}
