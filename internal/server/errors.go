package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meetpay/meetpay/internal/ledger"
	"github.com/meetpay/meetpay/internal/meeting"
	"github.com/meetpay/meetpay/internal/settlement"
	"github.com/meetpay/meetpay/internal/store"
	"github.com/meetpay/meetpay/pkg/id"
)

type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *apiError) Error() string { return e.Message }

func invalidRequestError() *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "invalid request body"}
}

func newValidationError(field, code, message string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: code, Message: message, Field: field}
}

func unauthorizedError() *apiError {
	return &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "missing or invalid admin token"}
}

func rateLimitedError() *apiError {
	return &apiError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many requests"}
}

// AbortWithError maps domain errors onto HTTP statuses and writes the
// error body.
func AbortWithError(c *gin.Context, err error) {
	var api *apiError
	if errors.As(err, &api) {
		c.AbortWithStatusJSON(api.Status, gin.H{"error": api})
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, id.ErrInvalid):
		status, code = http.StatusBadRequest, "invalid_id"
	case errors.Is(err, meeting.ErrUnknownUpdate):
		status, code = http.StatusBadRequest, "unknown_update"
	case errors.Is(err, settlement.ErrMeetingNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, settlement.ErrInvalidMeetingState):
		status, code = http.StatusConflict, "invalid_meeting_state"
	case errors.Is(err, ledger.ErrAlreadyExists):
		status, code = http.StatusConflict, "ledger_already_exists"
	case errors.Is(err, store.ErrNoMatch):
		status, code = http.StatusConflict, "no_match"
	case errors.Is(err, ledger.ErrAmbiguousLedger):
		status, code = http.StatusInternalServerError, "ambiguous_ledger"
	}

	c.AbortWithStatusJSON(status, gin.H{"error": &apiError{
		Status:  status,
		Code:    code,
		Message: err.Error(),
	}})
}
