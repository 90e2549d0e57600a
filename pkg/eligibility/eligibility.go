// Package eligibility derives exam eligibility from a student's fee records.
// Nothing here is cached; callers evaluate on every read.
package eligibility

import (
	"fmt"
	"sort"

	"github.com/bvce/edupay/pkg/models"
	"github.com/shopspring/decimal"
)

// Parity selects which semester rule decides IsEligible.
type Parity int

const (
	Any Parity = iota
	Odd
	Even
)

func (p Parity) String() string {
	switch p {
	case Odd:
		return "odd"
	case Even:
		return "even"
	default:
		return "any"
	}
}

// ParityOf returns the parity of a semester number.
func ParityOf(semester int) Parity {
	if semester%2 == 1 {
		return Odd
	}
	return Even
}

// oddThreshold is the share of current-year dues that must be paid to sit odd-semester exams.
var oddThreshold = decimal.NewFromFloat(0.5)

var hundred = decimal.NewFromInt(100)

func counts(r *models.FeeRecord, currentYear int) bool {
	if r.Year != currentYear {
		return false
	}
	return r.FeeType == models.FeeTypeCollege || r.FeeType == models.FeeTypeTransport
}

// Evaluate applies the eligibility rules to the student's current-year college and
// transport records.
func Evaluate(student *models.Student, records []*models.FeeRecord, parity Parity) models.EligibilityResult {
	considered := make([]*models.FeeRecord, 0, len(records))
	for _, r := range records {
		if counts(r, student.CurrentYear) {
			considered = append(considered, r)
		}
	}
	sortRecords(considered)

	var due, paid int64
	outstanding := false
	reasons := []string{}
	for _, r := range considered {
		due += r.AmountDue
		paid += r.AmountPaid
		if bal := r.Balance(); bal > 0 {
			outstanding = true
			reasons = append(reasons, describe(r, bal))
		}
	}

	res := models.EligibilityResult{
		Reasons:   reasons,
		TotalDue:  due,
		TotalPaid: paid,
	}

	if due == 0 {
		res.EligibleForOddSem = true
		res.PaidPercent = hundred.StringFixed(2)
	} else {
		ratio := decimal.NewFromInt(paid).Div(decimal.NewFromInt(due))
		res.EligibleForOddSem = ratio.GreaterThanOrEqual(oddThreshold)
		res.PaidPercent = decimal.Min(ratio.Mul(hundred), hundred).StringFixed(2)
	}
	res.EligibleForEvenSem = !outstanding

	switch parity {
	case Odd:
		res.IsEligible = res.EligibleForOddSem
	default:
		res.IsEligible = res.EligibleForEvenSem
	}
	return res
}

func describe(r *models.FeeRecord, balance int64) string {
	if r.Semester != nil {
		return fmt.Sprintf("Year %d Sem %d %s fee: %d outstanding", r.Year, *r.Semester, r.FeeType, balance)
	}
	return fmt.Sprintf("Year %d %s fee: %d outstanding", r.Year, r.FeeType, balance)
}

// sortRecords orders by year, then semester with nulls last.
func sortRecords(rs []*models.FeeRecord) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		switch {
		case a.Semester == nil:
			return false
		case b.Semester == nil:
			return true
		default:
			return *a.Semester < *b.Semester
		}
	})
}

// Dues is the outstanding balance per fee type across all records.
type Dues struct {
	CollegeFeeDue   int64 `json:"collegeFeeDue"`
	TransportFeeDue int64 `json:"transportFeeDue"`
	ExamFeeDue      int64 `json:"examFeeDue"`
	Total           int64 `json:"totalDue"`
}

func Summarize(records []*models.FeeRecord) Dues {
	var d Dues
	for _, r := range records {
		bal := r.Balance()
		switch r.FeeType {
		case models.FeeTypeCollege:
			d.CollegeFeeDue += bal
		case models.FeeTypeTransport:
			d.TransportFeeDue += bal
		case models.FeeTypeExam:
			d.ExamFeeDue += bal
		}
		d.Total += bal
	}
	return d
}
