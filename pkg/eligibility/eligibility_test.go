package eligibility

import (
	"testing"

	"github.com/bvce/edupay/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func rec(year int, sem *int, ft models.FeeType, due, paid int64) *models.FeeRecord {
	r := &models.FeeRecord{ID: uuid.New(), Year: year, Semester: sem, FeeType: ft, AmountDue: due, AmountPaid: paid}
	r.Refresh()
	return r
}

func intPtr(v int) *int { return &v }

func TestEvaluate_Boundaries(t *testing.T) {
	student := &models.Student{CurrentYear: 2}

	tests := []struct {
		name     string
		due      int64
		paid     int64
		wantOdd  bool
		wantEven bool
		percent  string
	}{
		{"half paid", 1000, 500, true, false, "50.00"},
		{"just under half", 1000, 499, false, false, "49.90"},
		{"fully paid", 1000, 1000, true, true, "100.00"},
		{"nothing due", 0, 0, true, true, "100.00"},
		{"nothing paid", 1000, 0, false, false, "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := []*models.FeeRecord{rec(2, nil, models.FeeTypeCollege, tt.due, tt.paid)}
			res := Evaluate(student, records, Any)
			assert.Equal(t, tt.wantOdd, res.EligibleForOddSem)
			assert.Equal(t, tt.wantEven, res.EligibleForEvenSem)
			assert.Equal(t, tt.wantEven, res.IsEligible, "overall follows the even rule")
			assert.Equal(t, tt.percent, res.PaidPercent)

			assert.Equal(t, tt.wantOdd, Evaluate(student, records, Odd).IsEligible)
			assert.Equal(t, tt.wantEven, Evaluate(student, records, Even).IsEligible)
		})
	}
}

func TestEvaluate_AggregatesCollegeAndTransport(t *testing.T) {
	student := &models.Student{CurrentYear: 3}
	records := []*models.FeeRecord{
		rec(3, nil, models.FeeTypeCollege, 10000, 10000),
		rec(3, nil, models.FeeTypeTransport, 10000, 0),
		// Ignored: previous year and exam fees.
		rec(2, nil, models.FeeTypeCollege, 50000, 0),
		rec(3, intPtr(5), models.FeeTypeExam, 1500, 0),
	}

	res := Evaluate(student, records, Any)
	assert.True(t, res.EligibleForOddSem)
	assert.False(t, res.EligibleForEvenSem)
	assert.Equal(t, int64(20000), res.TotalDue)
	assert.Equal(t, int64(10000), res.TotalPaid)
	assert.Equal(t, []string{"Year 3 transport fee: 10000 outstanding"}, res.Reasons)
}

func TestEvaluate_ReasonsOrdered(t *testing.T) {
	student := &models.Student{CurrentYear: 2}
	records := []*models.FeeRecord{
		rec(2, nil, models.FeeTypeCollege, 5000, 0),
		rec(2, intPtr(4), models.FeeTypeTransport, 800, 300),
		rec(2, intPtr(3), models.FeeTypeTransport, 800, 0),
	}

	res := Evaluate(student, records, Even)
	assert.Equal(t, []string{
		"Year 2 Sem 3 transport fee: 800 outstanding",
		"Year 2 Sem 4 transport fee: 500 outstanding",
		"Year 2 college fee: 5000 outstanding",
	}, res.Reasons)
	assert.False(t, res.IsEligible)
}

func TestEvaluate_NoRecords(t *testing.T) {
	res := Evaluate(&models.Student{CurrentYear: 1}, nil, Any)
	assert.True(t, res.IsEligible)
	assert.True(t, res.EligibleForOddSem)
	assert.NotNil(t, res.Reasons)
	assert.Empty(t, res.Reasons)
}

func TestParityOf(t *testing.T) {
	assert.Equal(t, Odd, ParityOf(1))
	assert.Equal(t, Even, ParityOf(2))
	assert.Equal(t, Odd, ParityOf(7))
	assert.Equal(t, Even, ParityOf(8))
}

func TestSummarize(t *testing.T) {
	d := Summarize([]*models.FeeRecord{
		rec(1, nil, models.FeeTypeCollege, 10000, 4000),
		rec(2, nil, models.FeeTypeCollege, 10000, 0),
		rec(2, nil, models.FeeTypeTransport, 3000, 3000),
		rec(2, intPtr(3), models.FeeTypeExam, 1500, 0),
	})
	assert.Equal(t, Dues{CollegeFeeDue: 16000, TransportFeeDue: 0, ExamFeeDue: 1500, Total: 17500}, d)
}
