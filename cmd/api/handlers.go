package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bvce/edupay/pkg/eligibility"
	"github.com/bvce/edupay/pkg/ledger"
	"github.com/bvce/edupay/pkg/models"
	"github.com/bvce/edupay/pkg/payments"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// StudentView is a student with their ledger as shown on both dashboards.
type StudentView struct {
	*models.Student
	FeeRecords  []*models.FeeRecord      `json:"feeRecords"`
	Dues        eligibility.Dues         `json:"dues"`
	Eligibility models.EligibilityResult `json:"eligibility"`
}

func (s *Server) studentView(student *models.Student) (*StudentView, error) {
	records, err := s.ledger.GetRecords(student.ID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*models.FeeRecord{}
	}
	return &StudentView{
		Student:     student,
		FeeRecords:  records,
		Dues:        eligibility.Summarize(records),
		Eligibility: eligibility.Evaluate(student, records, eligibility.Any),
	}, nil
}

// currentStudent resolves the student named by the token's usn claim.
func (s *Server) currentStudent(w http.ResponseWriter, r *http.Request) (*models.Student, bool) {
	claims, ok := claimsFrom(r.Context())
	if !ok || claims.USN == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Token has no student"})
		return nil, false
	}
	student, err := s.storage.GetStudentByUSN(claims.USN)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return student, true
}

func actor(r *http.Request) string {
	if claims, ok := claimsFrom(r.Context()); ok {
		if claims.Subject != "" {
			return claims.Subject
		}
		return claims.Role
	}
	return ""
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) configureFeeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quota       string `json:"quota" validate:"required,oneof=government management"`
		CurrentYear int    `json:"currentYear" validate:"required,min=1,max=4"`
		Amount      *int64 `json:"amount" validate:"required,min=0"`
		USN         string `json:"usn" validate:"required_if=Quota management"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.ledger.ConfigureFee(ledger.FeeConfig{
		Quota:  models.Quota(req.Quota),
		Year:   req.CurrentYear,
		USN:    req.USN,
		Amount: *req.Amount,
		Actor:  actor(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if batchErr := result.Err(); batchErr != nil {
		writeJSON(w, http.StatusMultiStatus, struct {
			*ledger.BatchResult
			Error string `json:"error"`
		}{result, batchErr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) searchStudentHandler(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "query is required"})
		return
	}

	found, err := s.storage.SearchStudents(query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(found) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Student not found"})
		return
	}

	views := make([]*StudentView, 0, len(found))
	for _, st := range found {
		view, err := s.studentView(st)
		if err != nil {
			writeError(w, r, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

// updateStudentFeesHandler accepts exactly one of three shapes: the outstanding balance of
// one fee type, an incremental payment against a record, or a direct set of a record's
// amounts. Mixed bodies are rejected so no field is silently ignored.
func (s *Server) updateStudentFeesHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CollegeFeeDue   *int64     `json:"collegeFeeDue" validate:"omitempty,min=0"`
		TransportFeeDue *int64     `json:"transportFeeDue" validate:"omitempty,min=0"`
		FeeRecordID     *uuid.UUID `json:"feeRecordId"`
		Amount          *int64     `json:"amount" validate:"omitempty,gt=0"`
		Mode            string     `json:"mode" validate:"omitempty,oneof=cash dd online"`
		Reference       string     `json:"reference" validate:"max=64"`
		AmountDue       *int64     `json:"amountDue" validate:"omitempty,min=0"`
		AmountPaid      *int64     `json:"amountPaid" validate:"omitempty,min=0"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	student, err := s.storage.GetStudentByUSN(mux.Vars(r)["usn"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	increment := req.Amount != nil || req.Mode != "" || req.Reference != ""
	direct := req.AmountDue != nil || req.AmountPaid != nil
	balance := req.CollegeFeeDue != nil || req.TransportFeeDue != nil
	shapes := 0
	for _, set := range []bool{increment, direct, balance} {
		if set {
			shapes++
		}
	}
	switch {
	case shapes == 0:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "nothing to update"})
		return
	case shapes > 1:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "send one of: a payment (amount, mode, reference), amountDue/amountPaid, or a fee balance"})
		return
	case req.CollegeFeeDue != nil && req.TransportFeeDue != nil:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "collegeFeeDue and transportFeeDue must be updated in separate requests"})
		return
	case balance && req.FeeRecordID != nil:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "feeRecordId cannot be combined with a fee balance"})
		return
	case !balance && req.FeeRecordID == nil:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "feeRecordId is required", Fields: map[string]string{"feeRecordId": "feeRecordId is a required field"}})
		return
	case increment && req.Amount == nil:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "amount is required", Fields: map[string]string{"amount": "amount is a required field"}})
		return
	}

	var in ledger.PaymentInput
	switch {
	case increment:
		in = ledger.Increment{
			RecordID:  *req.FeeRecordID,
			Amount:    *req.Amount,
			Mode:      models.PaymentMode(req.Mode),
			Reference: req.Reference,
			Actor:     actor(r),
		}
	case direct:
		in = ledger.DirectSet{
			RecordID:   req.FeeRecordID,
			AmountDue:  req.AmountDue,
			AmountPaid: req.AmountPaid,
			Actor:      actor(r),
		}
	case req.CollegeFeeDue != nil:
		in = ledger.DirectSet{StudentID: student.ID, FeeType: models.FeeTypeCollege, Balance: req.CollegeFeeDue, Actor: actor(r)}
	default:
		in = ledger.DirectSet{StudentID: student.ID, FeeType: models.FeeTypeTransport, Balance: req.TransportFeeDue, Actor: actor(r)}
	}

	if req.FeeRecordID != nil {
		rec, err := s.storage.GetFeeRecord(*req.FeeRecordID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if rec.StudentID != student.ID {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "Fee record not found for student"})
			return
		}
	}

	if _, err := s.ledger.ApplyPayment(in); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := s.studentView(student)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) studentTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	student, err := s.storage.GetStudentByUSN(mux.Vars(r)["usn"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := s.payments.History(student.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*models.PaymentTransaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) createExamNotificationHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Year          int       `json:"year" validate:"required,min=1,max=4"`
		Semester      int       `json:"semester" validate:"required,min=1,max=8"`
		ExamFeeAmount *int64    `json:"examFeeAmount" validate:"required,min=0"`
		LateFee       int64     `json:"lateFee" validate:"min=0"`
		StartDate     time.Time `json:"startDate" validate:"required"`
		EndDate       time.Time `json:"endDate" validate:"required,gtefield=StartDate"`
		Description   string    `json:"description" validate:"max=500"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	n := &models.ExamNotification{
		Year:        req.Year,
		Semester:    req.Semester,
		FeeAmount:   *req.ExamFeeAmount,
		LateFee:     req.LateFee,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Description: req.Description,
	}
	if err := s.storage.CreateExamNotification(n); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	student, ok := s.currentStudent(w, r)
	if !ok {
		return
	}
	view, err := s.studentView(student)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) eligibilityHandler(w http.ResponseWriter, r *http.Request) {
	student, ok := s.currentStudent(w, r)
	if !ok {
		return
	}

	parity := eligibility.Any
	if sem := r.URL.Query().Get("semester"); sem != "" {
		n, err := strconv.Atoi(sem)
		if err != nil || n < 1 || n > 8 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "semester must be between 1 and 8"})
			return
		}
		parity = eligibility.ParityOf(n)
	}

	records, err := s.ledger.GetRecords(student.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibility.Evaluate(student, records, parity))
}

func (s *Server) examFeesHandler(w http.ResponseWriter, r *http.Request) {
	student, ok := s.currentStudent(w, r)
	if !ok {
		return
	}
	fees, err := s.payments.ExamFees(student.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fees)
}

func (s *Server) paymentKeyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"key": s.payments.PublicKey()})
}

func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount             int64      `json:"amount" validate:"required,gt=0"`
		PaymentType        string     `json:"paymentType" validate:"required,oneof=college_fee transport_fee exam_fee"`
		FeeRecordID        *uuid.UUID `json:"feeRecordId"`
		ExamNotificationID *uuid.UUID `json:"examNotificationId" validate:"required_if=PaymentType exam_fee"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	student, ok := s.currentStudent(w, r)
	if !ok {
		return
	}

	order, err := s.payments.CreateOrder(r.Context(), student.ID, payments.OrderRequest{
		Amount:             req.Amount,
		PaymentType:        payments.PaymentType(req.PaymentType),
		FeeRecordID:        req.FeeRecordID,
		ExamNotificationID: req.ExamNotificationID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) verifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GatewayOrderID     string     `json:"gatewayOrderId" validate:"required"`
		GatewayPaymentID   string     `json:"gatewayPaymentId" validate:"required"`
		Signature          string     `json:"signature" validate:"required,hexadecimal"`
		PaymentType        string     `json:"paymentType" validate:"required,oneof=college_fee transport_fee exam_fee"`
		Amount             int64      `json:"amount" validate:"required,gt=0"`
		ExamNotificationID *uuid.UUID `json:"examNotificationId" validate:"required_if=PaymentType exam_fee"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	student, ok := s.currentStudent(w, r)
	if !ok {
		return
	}

	res, err := s.payments.Verify(student.ID, payments.VerifyRequest{
		OrderID:            req.GatewayOrderID,
		PaymentID:          req.GatewayPaymentID,
		Signature:          req.Signature,
		PaymentType:        payments.PaymentType(req.PaymentType),
		Amount:             req.Amount,
		ExamNotificationID: req.ExamNotificationID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) paymentHistoryHandler(w http.ResponseWriter, r *http.Request) {
	student, ok := s.currentStudent(w, r)
	if !ok {
		return
	}
	txs, err := s.payments.History(student.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*models.PaymentTransaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}
