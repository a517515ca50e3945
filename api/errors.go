package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/caixa-engine/caixa"
	"github.com/warp/caixa-engine/logger"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error         string `json:"error"`
	Details       string `json:"details,omitempty"`
	Field         string `json:"field,omitempty"`
	OpenSessionID string `json:"open_session_id,omitempty"`
	Available     string `json:"available,omitempty"`
	Shortfall     string `json:"shortfall,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps ledger errors to HTTP statuses. Anything it does not
// recognize is logged and reported as a 500 without internals.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Details: err.Error()}
	status := http.StatusInternalServerError

	var (
		validation   *caixa.ValidationError
		conflict     *caixa.ConflictError
		insufficient *caixa.InsufficientBalanceError
	)
	switch {
	case errors.As(err, &validation):
		status, resp.Error, resp.Field = http.StatusBadRequest, "validation failed", validation.Field
	case errors.As(err, &conflict):
		status, resp.Error = http.StatusConflict, "session already open"
		resp.OpenSessionID = string(conflict.OpenSessionID)
	case errors.As(err, &insufficient):
		status, resp.Error = http.StatusUnprocessableEntity, "insufficient balance"
		resp.Available = money(insufficient.Available)
		resp.Shortfall = money(insufficient.Shortfall)
	case errors.Is(err, caixa.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "not found"
	case errors.Is(err, caixa.ErrSessionClosed):
		status, resp.Error = http.StatusConflict, "session closed"
	case errors.Is(err, caixa.ErrAlreadyClosed):
		status, resp.Error = http.StatusConflict, "session already closed"
	case errors.Is(err, caixa.ErrConcurrentModification):
		w.Header().Set("Retry-After", "1")
		status, resp.Error = http.StatusServiceUnavailable, "concurrent modification, retry"
	default:
		logger.FromContextOr(r.Context(), h.Logger).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		resp = ErrorResponse{Error: "internal error"}
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		rules := map[string]validator.Func{
			"positive_amount":    amountRule(func(d decimal.Decimal) bool { return d.IsPositive() }),
			"nonnegative_amount": amountRule(func(d decimal.Decimal) bool { return !d.IsNegative() }),
		}
		for tag, fn := range rules {
			if err := v.RegisterValidation(tag, fn); err != nil {
				panic(fmt.Sprintf("api: register %s validation: %v", tag, err))
			}
		}
		validate = v
	})
	return validate
}

func amountRule(ok func(decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true // left to "required"
		}
		d, err := decimal.NewFromString(s)
		return err == nil && ok(d)
	}
}

// normalizer is implemented by requests whose enum fields are
// case-insensitive on the wire.
type normalizer interface {
	normalize()
}

// decodeAndValidate reads a JSON body into dst and checks its tags. The
// returned error is a *caixa.ValidationError so it maps to 400.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &caixa.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	if err := getValidator().Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &caixa.ValidationError{Field: fe.Field(), Message: describeRule(fe)}
		}
		return &caixa.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "positive_amount":
		return "must be a decimal amount greater than zero"
	case "nonnegative_amount":
		return "must be a decimal amount not below zero"
	default:
		return "failed " + fe.Tag()
	}
}
