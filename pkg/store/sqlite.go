package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bvce/edupay/pkg/models"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
// Foreign keys, WAL mode and immediate write transactions are enabled through the DSN
// so that every pooled connection gets them.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	dsn := dataSourceName
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "could not open database")
	}
	// SQLite has a single writer; correctness still relies on the version check below.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "could not connect to database")
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, errors.Wrap(err, "could not initialize schema")
	}
	logrus.WithField("dsn", dataSourceName).Info("Database connection established and schema initialized")
	return s, nil
}

// initSchema creates the database tables if they don't already exist and adds new columns if necessary.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		usn TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		current_year INTEGER NOT NULL,
		quota TEXT NOT NULL,
		entry_type TEXT NOT NULL DEFAULT 'regular',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_students_cohort ON students(quota, current_year);
	CREATE TABLE IF NOT EXISTS fee_records (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		semester INTEGER,
		fee_type TEXT NOT NULL,
		amount_due INTEGER NOT NULL DEFAULT 0,
		amount_paid INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(student_id) REFERENCES students(id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_fee_records_tuple ON fee_records(student_id, year, IFNULL(semester, 0), fee_type);
	CREATE TABLE IF NOT EXISTS exam_notifications (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		semester INTEGER NOT NULL,
		fee_amount INTEGER NOT NULL,
		late_fee INTEGER NOT NULL DEFAULT 0,
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		fee_record_id TEXT,
		exam_notification_id TEXT,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		mode TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		gateway_order_id TEXT,
		gateway_payment_id TEXT,
		gateway_signature TEXT,
		status TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		FOREIGN KEY(student_id) REFERENCES students(id),
		FOREIGN KEY(fee_record_id) REFERENCES fee_records(id),
		FOREIGN KEY(exam_notification_id) REFERENCES exam_notifications(id)
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_order ON transactions(gateway_order_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_confirmation
		ON transactions(gateway_order_id, gateway_payment_id) WHERE status = 'completed';
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release.
	columns := []struct{ table, def string }{
		{"fee_records", "version INTEGER NOT NULL DEFAULT 1"},
		{"transactions", "actor TEXT NOT NULL DEFAULT ''"},
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", col.table, col.def))
		if err != nil && !isDuplicateColumnError(err) {
			return errors.Wrapf(err, "failed to add column %s.%s", col.table, col.def)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func normalizeUSN(usn string) string {
	return strings.ToUpper(strings.TrimSpace(usn))
}

type scanner interface {
	Scan(dest ...any) error
}

// CreateStudent inserts a new student.
func (s *SQLiteStore) CreateStudent(student *models.Student) error {
	student.USN = normalizeUSN(student.USN)
	if student.ID == uuid.Nil {
		student.ID = uuid.New()
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = time.Now().UTC()
	}
	if student.EntryType == "" {
		student.EntryType = models.EntryRegular
	}
	_, err := s.db.Exec(
		`INSERT INTO students (id, usn, name, department, current_year, quota, entry_type, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		student.ID.String(), student.USN, student.Name, student.Department, student.CurrentYear, string(student.Quota), string(student.EntryType), student.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(ErrDuplicate, "student %s", student.USN)
		}
		return errors.Wrap(err, "failed to create student")
	}
	return nil
}

const studentColumns = `id, usn, name, department, current_year, quota, entry_type, created_at`

func scanStudent(row scanner) (*models.Student, error) {
	var st models.Student
	var id, quota, entry string
	if err := row.Scan(&id, &st.USN, &st.Name, &st.Department, &st.CurrentYear, &quota, &entry, &st.CreatedAt); err != nil {
		return nil, err
	}
	st.ID = uuid.MustParse(id)
	st.Quota = models.Quota(quota)
	st.EntryType = models.EntryType(entry)
	return &st, nil
}

func (s *SQLiteStore) queryStudents(query string, args ...any) ([]*models.Student, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query students")
	}
	defer rows.Close()

	var students []*models.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan student row")
		}
		students = append(students, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error during rows iteration")
	}
	return students, nil
}

// GetStudent retrieves a student by ID.
func (s *SQLiteStore) GetStudent(id uuid.UUID) (*models.Student, error) {
	st, err := scanStudent(s.db.QueryRow(`SELECT `+studentColumns+` FROM students WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "student %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get student")
	}
	return st, nil
}

// GetStudentByUSN retrieves a student by USN, ignoring case.
func (s *SQLiteStore) GetStudentByUSN(usn string) (*models.Student, error) {
	st, err := scanStudent(s.db.QueryRow(`SELECT `+studentColumns+` FROM students WHERE usn = ?`, normalizeUSN(usn)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "student %s", usn)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get student")
	}
	return st, nil
}

func (s *SQLiteStore) SearchStudents(query string) ([]*models.Student, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	return s.queryStudents(
		`SELECT `+studentColumns+` FROM students WHERE usn = ? OR name LIKE ? ORDER BY usn`,
		normalizeUSN(q), "%"+q+"%",
	)
}

// GetStudentsByCohort retrieves every student of a quota in a given year.
func (s *SQLiteStore) GetStudentsByCohort(quota models.Quota, year int) ([]*models.Student, error) {
	return s.queryStudents(
		`SELECT `+studentColumns+` FROM students WHERE quota = ? AND current_year = ? ORDER BY usn`,
		string(quota), year,
	)
}

const feeRecordColumns = `id, student_id, year, semester, fee_type, amount_due, amount_paid, status, version, created_at, updated_at`

func scanFeeRecord(row scanner) (*models.FeeRecord, error) {
	var rec models.FeeRecord
	var id, studentID, feeType, status string
	var semester sql.NullInt64
	if err := row.Scan(&id, &studentID, &rec.Year, &semester, &feeType, &rec.AmountDue, &rec.AmountPaid, &status, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.ID = uuid.MustParse(id)
	rec.StudentID = uuid.MustParse(studentID)
	rec.FeeType = models.FeeType(feeType)
	rec.Status = models.FeeStatus(status)
	if semester.Valid {
		sem := int(semester.Int64)
		rec.Semester = &sem
	}
	return &rec, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// GetFeeRecord retrieves a fee record by its ID.
func (s *SQLiteStore) GetFeeRecord(id uuid.UUID) (*models.FeeRecord, error) {
	rec, err := scanFeeRecord(s.db.QueryRow(`SELECT `+feeRecordColumns+` FROM fee_records WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "fee record %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get fee record")
	}
	return rec, nil
}

func (s *SQLiteStore) FindFeeRecord(studentID uuid.UUID, year int, semester *int, feeType models.FeeType) (*models.FeeRecord, error) {
	return findFeeRecord(s.db, studentID, year, semester, feeType)
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func findFeeRecord(q querier, studentID uuid.UUID, year int, semester *int, feeType models.FeeType) (*models.FeeRecord, error) {
	rec, err := scanFeeRecord(q.QueryRow(
		`SELECT `+feeRecordColumns+` FROM fee_records WHERE student_id = ? AND year = ? AND IFNULL(semester, 0) = IFNULL(?, 0) AND fee_type = ?`,
		studentID.String(), year, nullableInt(semester), string(feeType),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "%s fee record for year %d", feeType, year)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find fee record")
	}
	return rec, nil
}

// GetFeeRecordsForStudent retrieves all fee records of a student.
func (s *SQLiteStore) GetFeeRecordsForStudent(studentID uuid.UUID) ([]*models.FeeRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+feeRecordColumns+` FROM fee_records WHERE student_id = ? ORDER BY year ASC, semester IS NULL ASC, semester ASC, fee_type ASC`,
		studentID.String(),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get fee records for student %s", studentID)
	}
	defer rows.Close()

	var records []*models.FeeRecord
	for rows.Next() {
		rec, err := scanFeeRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan fee record row")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error during rows iteration for fee records")
	}
	return records, nil
}

// UpsertFeeRecord creates or re-prices a fee record inside one transaction.
func (s *SQLiteStore) UpsertFeeRecord(studentID uuid.UUID, year int, semester *int, feeType models.FeeType, amountDue int64, at time.Time) (*models.FeeRecord, error) {
	at = at.UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	rec, err := findFeeRecord(tx, studentID, year, semester, feeType)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = &models.FeeRecord{
			ID:        uuid.New(),
			StudentID: studentID,
			Year:      year,
			Semester:  semester,
			FeeType:   feeType,
			AmountDue: amountDue,
			Version:   1,
			CreatedAt: at,
			UpdatedAt: at,
		}
		rec.Refresh()
		_, err = tx.Exec(
			`INSERT INTO fee_records (id, student_id, year, semester, fee_type, amount_due, amount_paid, status, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID.String(), studentID.String(), year, nullableInt(semester), string(feeType), rec.AmountDue, rec.AmountPaid, string(rec.Status), rec.Version, rec.CreatedAt, rec.UpdatedAt,
		)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
				return nil, errors.Wrapf(ErrNotFound, "student %s", studentID)
			}
			return nil, errors.Wrap(err, "failed to insert fee record")
		}
	case err != nil:
		return nil, err
	default:
		rec.AmountDue = amountDue
		rec.Refresh()
		rec.Version++
		rec.UpdatedAt = at
		_, err = tx.Exec(
			`UPDATE fee_records SET amount_due = ?, status = ?, version = ?, updated_at = ? WHERE id = ?`,
			rec.AmountDue, string(rec.Status), rec.Version, rec.UpdatedAt, rec.ID.String(),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to update fee record")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit fee record")
	}
	return rec, nil
}

// CommitLedgerEntry writes a reconciled fee record and its transaction atomically.
func (s *SQLiteStore) CommitLedgerEntry(record *models.FeeRecord, expectedVersion int64, entry *models.PaymentTransaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	next := expectedVersion + 1
	updatedAt := record.UpdatedAt.UTC()
	result, err := tx.Exec(
		`UPDATE fee_records SET amount_due = ?, amount_paid = ?, status = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`,
		record.AmountDue, record.AmountPaid, string(record.Status), next, updatedAt, record.ID.String(), expectedVersion,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update fee record")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rowsAffected == 0 {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM fee_records WHERE id = ?`, record.ID.String()).Scan(&exists); err != nil {
			return errors.Wrap(err, "failed to check fee record")
		}
		if exists == 0 {
			return errors.Wrapf(ErrNotFound, "fee record %s", record.ID)
		}
		return ErrVersionConflict
	}

	if entry != nil {
		if err := writeEntry(tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit ledger entry")
	}
	record.Version = next
	return nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// writeEntry resolves entry if it is pending in the log, otherwise appends it.
func writeEntry(ex execer, entry *models.PaymentTransaction) error {
	if entry.Status != models.TransactionStatusPending {
		n, err := resolvePending(ex, entry)
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}
	}
	return insertTransaction(ex, entry)
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func insertTransaction(ex execer, t *models.PaymentTransaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := ex.Exec(
		`INSERT INTO transactions (id, student_id, fee_record_id, exam_notification_id, kind, amount, mode, reference, gateway_order_id, gateway_payment_id, gateway_signature, status, note, actor, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.StudentID.String(), nullableUUID(t.FeeRecordID), nullableUUID(t.ExamNotificationID), string(t.Kind), t.Amount, string(t.Mode), t.Reference,
		nullableString(t.GatewayOrderID), nullableString(t.GatewayPaymentID), nullableString(t.GatewaySignature), string(t.Status), t.Note, t.Actor, t.CreatedAt.UTC(), nullableTime(t.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(ErrDuplicate, "transaction %s", t.ID)
		}
		return errors.Wrap(err, "failed to create transaction")
	}
	return nil
}

func resolvePending(ex execer, t *models.PaymentTransaction) (int64, error) {
	result, err := ex.Exec(
		`UPDATE transactions SET status = ?, fee_record_id = ?, gateway_payment_id = ?, gateway_signature = ?, note = ?, completed_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(t.Status), nullableUUID(t.FeeRecordID), nullableString(t.GatewayPaymentID), nullableString(t.GatewaySignature), t.Note, nullableTime(t.CompletedAt), t.ID.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errors.Wrapf(ErrDuplicate, "transaction %s", t.ID)
		}
		return 0, errors.Wrap(err, "failed to resolve transaction")
	}
	return result.RowsAffected()
}

// CreateTransaction appends a transaction to the log.
func (s *SQLiteStore) CreateTransaction(transaction *models.PaymentTransaction) error {
	return insertTransaction(s.db, transaction)
}

func (s *SQLiteStore) ResolvePendingTransaction(transaction *models.PaymentTransaction) error {
	n, err := resolvePending(s.db, transaction)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ExpirePendingTransactions fails gateway orders created before the cutoff that were never confirmed.
func (s *SQLiteStore) ExpirePendingTransactions(before time.Time) (int64, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`UPDATE transactions SET status = 'failed', note = 'order expired', completed_at = ?
		WHERE status = 'pending' AND gateway_order_id IS NOT NULL AND created_at < ?`,
		now, before.UTC(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to expire pending transactions")
	}
	return result.RowsAffected()
}

const transactionColumns = `id, student_id, fee_record_id, exam_notification_id, kind, amount, mode, reference, gateway_order_id, gateway_payment_id, gateway_signature, status, note, actor, created_at, completed_at`

func scanTransaction(row scanner) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	var id, studentID, kind, mode, status string
	var recordID, examID, orderID, paymentID, signature sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&id, &studentID, &recordID, &examID, &kind, &t.Amount, &mode, &t.Reference, &orderID, &paymentID, &signature, &status, &t.Note, &t.Actor, &t.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	t.ID = uuid.MustParse(id)
	t.StudentID = uuid.MustParse(studentID)
	t.Kind = models.TransactionKind(kind)
	t.Mode = models.PaymentMode(mode)
	t.Status = models.TransactionStatus(status)
	if recordID.Valid {
		rid := uuid.MustParse(recordID.String)
		t.FeeRecordID = &rid
	}
	if examID.Valid {
		eid := uuid.MustParse(examID.String)
		t.ExamNotificationID = &eid
	}
	if orderID.Valid {
		t.GatewayOrderID = &orderID.String
	}
	if paymentID.Valid {
		t.GatewayPaymentID = &paymentID.String
	}
	if signature.Valid {
		t.GatewaySignature = &signature.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func (s *SQLiteStore) queryTransactions(query string, args ...any) ([]*models.PaymentTransaction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query transactions")
	}
	defer rows.Close()

	var transactions []*models.PaymentTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan transaction row")
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error during rows iteration for transactions")
	}
	return transactions, nil
}

// GetTransactionByOrderID returns the transaction opened for a gateway order.
// Audit rows appended later for the same order are not returned.
func (s *SQLiteStore) GetTransactionByOrderID(orderID string) (*models.PaymentTransaction, error) {
	t, err := scanTransaction(s.db.QueryRow(
		`SELECT `+transactionColumns+` FROM transactions WHERE gateway_order_id = ? ORDER BY created_at ASC, rowid ASC LIMIT 1`,
		orderID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "order %s", orderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	return t, nil
}

// GetTransactionsForStudent returns a student's transactions, newest first.
func (s *SQLiteStore) GetTransactionsForStudent(studentID uuid.UUID) ([]*models.PaymentTransaction, error) {
	return s.queryTransactions(
		`SELECT `+transactionColumns+` FROM transactions WHERE student_id = ? ORDER BY created_at DESC, rowid DESC`,
		studentID.String(),
	)
}

// GetTransactionsForFeeRecord returns a record's transactions in the order they were logged.
func (s *SQLiteStore) GetTransactionsForFeeRecord(recordID uuid.UUID) ([]*models.PaymentTransaction, error) {
	return s.queryTransactions(
		`SELECT `+transactionColumns+` FROM transactions WHERE fee_record_id = ? ORDER BY created_at ASC, rowid ASC`,
		recordID.String(),
	)
}

func (s *SQLiteStore) CreateExamNotification(n *models.ExamNotification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	_, err := s.db.Exec(
		`INSERT INTO exam_notifications (id, year, semester, fee_amount, late_fee, start_date, end_date, description) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.Year, n.Semester, n.FeeAmount, n.LateFee, n.StartDate.UTC(), n.EndDate.UTC(), n.Description,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create exam notification")
	}
	return nil
}

const examNotificationColumns = `id, year, semester, fee_amount, late_fee, start_date, end_date, description`

func scanExamNotification(row scanner) (*models.ExamNotification, error) {
	var n models.ExamNotification
	var id string
	if err := row.Scan(&id, &n.Year, &n.Semester, &n.FeeAmount, &n.LateFee, &n.StartDate, &n.EndDate, &n.Description); err != nil {
		return nil, err
	}
	n.ID = uuid.MustParse(id)
	return &n, nil
}

func (s *SQLiteStore) GetExamNotification(id uuid.UUID) (*models.ExamNotification, error) {
	n, err := scanExamNotification(s.db.QueryRow(`SELECT `+examNotificationColumns+` FROM exam_notifications WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "exam notification %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get exam notification")
	}
	return n, nil
}

// ListExamNotifications returns the notifications for a year, earliest window first.
func (s *SQLiteStore) ListExamNotifications(year int) ([]*models.ExamNotification, error) {
	rows, err := s.db.Query(`SELECT `+examNotificationColumns+` FROM exam_notifications WHERE year = ? ORDER BY start_date ASC, semester ASC`, year)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list exam notifications")
	}
	defer rows.Close()

	var out []*models.ExamNotification
	for rows.Next() {
		n, err := scanExamNotification(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan exam notification row")
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error during rows iteration for exam notifications")
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
