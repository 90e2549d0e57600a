package store

import (
	"time"

	"github.com/bvce/edupay/pkg/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a student, fee record, order or notification does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a fee record changed since it was read.
	ErrVersionConflict = errors.New("fee record was modified concurrently")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate entry")
)

// Storage defines the fee record store and the payment transaction log.
type Storage interface {
	CreateStudent(student *models.Student) error
	GetStudent(id uuid.UUID) (*models.Student, error)
	GetStudentByUSN(usn string) (*models.Student, error)
	// SearchStudents matches the USN exactly (case-insensitive) or the name as a substring.
	SearchStudents(query string) ([]*models.Student, error)
	GetStudentsByCohort(quota models.Quota, year int) ([]*models.Student, error)

	GetFeeRecord(id uuid.UUID) (*models.FeeRecord, error)
	FindFeeRecord(studentID uuid.UUID, year int, semester *int, feeType models.FeeType) (*models.FeeRecord, error)
	// GetFeeRecordsForStudent returns records ordered by year, then semester with nulls last.
	GetFeeRecordsForStudent(studentID uuid.UUID) ([]*models.FeeRecord, error)
	// UpsertFeeRecord creates the record for the tuple or overwrites its amountDue.
	UpsertFeeRecord(studentID uuid.UUID, year int, semester *int, feeType models.FeeType, amountDue int64, at time.Time) (*models.FeeRecord, error)
	// CommitLedgerEntry writes record if its stored version still equals expectedVersion,
	// and records entry in the same database transaction. A pending entry already in the
	// log is moved to entry's status instead of being inserted again.
	CommitLedgerEntry(record *models.FeeRecord, expectedVersion int64, entry *models.PaymentTransaction) error

	CreateTransaction(transaction *models.PaymentTransaction) error
	GetTransactionByOrderID(orderID string) (*models.PaymentTransaction, error)
	GetTransactionsForStudent(studentID uuid.UUID) ([]*models.PaymentTransaction, error)
	GetTransactionsForFeeRecord(recordID uuid.UUID) ([]*models.PaymentTransaction, error)
	// ResolvePendingTransaction moves a pending transaction to its final status.
	// It returns ErrVersionConflict if the stored row is no longer pending.
	ResolvePendingTransaction(transaction *models.PaymentTransaction) error
	ExpirePendingTransactions(before time.Time) (int64, error)

	CreateExamNotification(n *models.ExamNotification) error
	GetExamNotification(id uuid.UUID) (*models.ExamNotification, error)
	ListExamNotifications(year int) ([]*models.ExamNotification, error)

	Close() error
}
