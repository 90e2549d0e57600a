package main

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bvce/edupay/pkg/models"
	"github.com/bvce/edupay/pkg/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

var requiredColumns = []string{"usn", "name", "current year", "quota"}

type RowError struct {
	Row int // 1-based, header is row 1
	USN string
	Err error
}

type Report struct {
	Created int
	Skipped int
	Errors  []RowError
}

func readRows(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSX(path)
	case ".csv":
		return readCSV(path)
	default:
		return nil, errors.Errorf("unsupported roster format %q (want .xlsx or .csv)", filepath.Ext(path))
	}
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sheet := f.GetSheetName(0)
	if sheet == "" {
		sheet = "Sheet1"
	}
	return f.GetRows(sheet)
}

func headerIndexes(header []string) (map[string]int, error) {
	m := map[string]int{}
	for i, h := range header {
		m[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := m[col]; !ok {
			return nil, errors.Errorf("missing column %q", col)
		}
	}
	return m, nil
}

func cell(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseStudent(row []string, idx map[string]int) (*models.Student, error) {
	st := &models.Student{
		USN:        cell(row, idx, "usn"),
		Name:       cell(row, idx, "name"),
		Department: cell(row, idx, "department"),
	}
	if st.USN == "" {
		return nil, errors.New("usn is empty")
	}

	year, err := strconv.Atoi(cell(row, idx, "current year"))
	if err != nil || year < 1 || year > 4 {
		return nil, errors.Errorf("current year %q must be 1-4", cell(row, idx, "current year"))
	}
	st.CurrentYear = year

	switch q := models.Quota(strings.ToLower(cell(row, idx, "quota"))); q {
	case models.QuotaGovernment, models.QuotaManagement:
		st.Quota = q
	default:
		return nil, errors.Errorf("quota %q must be government or management", q)
	}

	switch e := models.EntryType(strings.ToLower(cell(row, idx, "entry type"))); e {
	case "", models.EntryRegular:
		st.EntryType = models.EntryRegular
	case models.EntryLateral:
		st.EntryType = models.EntryLateral
	default:
		return nil, errors.Errorf("entry type %q must be regular or lateral", e)
	}
	return st, nil
}

// importRoster adds students that are not yet known. Existing USNs are left untouched
// and bad rows are reported without stopping the import.
func importRoster(s store.Storage, rows [][]string) (*Report, error) {
	if len(rows) == 0 {
		return nil, errors.New("roster is empty")
	}
	idx, err := headerIndexes(rows[0])
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for i, row := range rows[1:] {
		rowNum := i + 2
		if len(strings.Join(row, "")) == 0 {
			continue
		}
		st, err := parseStudent(row, idx)
		if err != nil {
			report.Errors = append(report.Errors, RowError{Row: rowNum, USN: cell(row, idx, "usn"), Err: err})
			continue
		}

		if _, err := s.GetStudentByUSN(st.USN); err == nil {
			report.Skipped++
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			report.Errors = append(report.Errors, RowError{Row: rowNum, USN: st.USN, Err: err})
			continue
		}

		if err := s.CreateStudent(st); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				report.Skipped++
				continue
			}
			report.Errors = append(report.Errors, RowError{Row: rowNum, USN: st.USN, Err: err})
			continue
		}
		report.Created++
		logrus.WithFields(logrus.Fields{"usn": st.USN, "year": st.CurrentYear, "quota": st.Quota}).Debug("Student imported")
	}
	return report, nil
}
