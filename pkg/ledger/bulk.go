package ledger

import (
	"strings"

	"github.com/bvce/edupay/pkg/models"
	"github.com/bvce/edupay/pkg/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FeeConfig sets the college fee due for a year. Government quota applies it to the
// whole cohort; management quota targets the student identified by USN.
type FeeConfig struct {
	Quota  models.Quota
	Year   int
	USN    string
	Amount int64
	Actor  string
}

type Outcome struct {
	StudentID uuid.UUID         `json:"studentId"`
	USN       string            `json:"usn"`
	Record    *models.FeeRecord `json:"record,omitempty"`
	Err       error             `json:"-"`
	Error     string            `json:"error,omitempty"`
}

type BatchResult struct {
	Quota    models.Quota `json:"quota"`
	Year     int          `json:"year"`
	Amount   int64        `json:"amount"`
	Outcomes []Outcome    `json:"outcomes"`
}

func (b *BatchResult) Failed() []Outcome {
	var failed []Outcome
	for _, o := range b.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err returns a *PartialBatchFailure if any student could not be updated.
func (b *BatchResult) Err() error {
	failed := b.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &PartialBatchFailure{Total: len(b.Outcomes), Failed: failed}
}

// ConfigureFee creates or re-prices college fee records. Re-running it with the same
// parameters leaves the same amountDue in place.
func (l *Ledger) ConfigureFee(cfg FeeConfig) (*BatchResult, error) {
	if cfg.Year < 1 || cfg.Year > 4 {
		return nil, ErrInvalidYear
	}
	if cfg.Amount < 0 {
		return nil, ErrInvalidAmount
	}

	var targets []*models.Student
	switch cfg.Quota {
	case models.QuotaManagement:
		usn := strings.TrimSpace(cfg.USN)
		if usn == "" {
			return nil, ErrUSNRequired
		}
		student, err := l.storage.GetStudentByUSN(usn)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errors.Wrap(ErrStudentNotFound, usn)
			}
			return nil, err
		}
		targets = []*models.Student{student}
	case models.QuotaGovernment:
		cohort, err := l.storage.GetStudentsByCohort(models.QuotaGovernment, cfg.Year)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load cohort")
		}
		targets = cohort
	default:
		return nil, ErrInvalidQuota
	}

	result := &BatchResult{Quota: cfg.Quota, Year: cfg.Year, Amount: cfg.Amount, Outcomes: make([]Outcome, 0, len(targets))}
	for _, student := range targets {
		outcome := Outcome{StudentID: student.ID, USN: student.USN}
		rec, err := l.storage.UpsertFeeRecord(student.ID, cfg.Year, nil, models.FeeTypeCollege, cfg.Amount, l.now())
		if err != nil {
			outcome.Err = err
			outcome.Error = err.Error()
			logrus.WithError(err).WithFields(logrus.Fields{
				"usn":  student.USN,
				"year": cfg.Year,
			}).Error("Failed to assign fee")
		} else {
			outcome.Record = rec
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	// A single targeted student has no partial outcome to report.
	if cfg.Quota == models.QuotaManagement && result.Outcomes[0].Err != nil {
		return nil, result.Outcomes[0].Err
	}

	logrus.WithFields(logrus.Fields{
		"quota":    cfg.Quota,
		"year":     cfg.Year,
		"amount":   cfg.Amount,
		"students": len(result.Outcomes),
		"failed":   len(result.Failed()),
		"actor":    cfg.Actor,
	}).Info("College fee configured")
	return result, nil
}
