package main

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/bvce/edupay/pkg/gateway"
	"github.com/bvce/edupay/pkg/ledger"
	"github.com/bvce/edupay/pkg/payments"
	"github.com/bvce/edupay/pkg/store"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type errorBody struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("Failed to encode response")
	}
}

// statusFor maps domain errors to HTTP statuses. Anything unrecognised is reported as
// a retryable 503 so the caller knows nothing was silently applied.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ledger.ErrStudentNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidMode),
		errors.Is(err, ledger.ErrInvalidReference),
		errors.Is(err, ledger.ErrInvalidFeeType),
		errors.Is(err, ledger.ErrInvalidQuota),
		errors.Is(err, ledger.ErrInvalidYear),
		errors.Is(err, ledger.ErrUSNRequired),
		errors.Is(err, payments.ErrInvalidPaymentType):
		return http.StatusBadRequest, false
	case errors.Is(err, ledger.ErrOverpaymentRejected),
		errors.Is(err, ledger.ErrConflictingConfirmation),
		errors.Is(err, ledger.ErrOrderClosed),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, false
	case errors.Is(err, gateway.ErrVerificationFailed):
		return http.StatusPaymentRequired, false
	case errors.Is(err, payments.ErrExamNotPayable):
		return http.StatusUnprocessableEntity, false
	default:
		return http.StatusServiceUnavailable, true
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, retryable := statusFor(err)
	body := errorBody{Error: err.Error(), Retryable: retryable}
	if retryable {
		logrus.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		body.Error = "service temporarily unavailable, please retry"
	}
	writeJSON(w, status, body)
}

// newValidator returns a validator whose messages are in English and name fields by
// their JSON tags.
func newValidator() (*validator.Validate, ut.Translator, error) {
	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, found := uni.GetTranslator("en")
	if !found {
		return nil, nil, errors.New("english translator is not registered")
	}
	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		return nil, nil, errors.Wrap(err, "failed to register validation translations")
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate, translator, nil
}

// decode reads a JSON body into v and validates it, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Translate(s.translator)
			}
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: fields})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return false
	}
	return true
}
