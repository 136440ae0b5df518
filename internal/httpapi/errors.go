package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/pulse/internal/ledger"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code        string             `json:"code"`
	Message     string             `json:"message"`
	PollID      *ledger.PollID     `json:"poll_id,omitempty"`
	Participant ledger.Participant `json:"participant,omitempty"`
}

// statusFor maps a ledger error code to an HTTP status.
func statusFor(code ledger.ErrorCode) int {
	switch code {
	case ledger.ErrCodeNotFound:
		return http.StatusNotFound
	case ledger.ErrCodeInvalidState, ledger.ErrCodeDuplicateAction:
		return http.StatusConflict
	case ledger.ErrCodeUnauthorized:
		return http.StatusForbidden
	case ledger.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ledger.ErrCodeExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes err and stops the handler chain. Errors that are not
// ledger errors are logged and reported as INTERNAL without detail.
func (s *Server) abortWithError(c *gin.Context, err error) {
	var lerr *ledger.Error
	if errors.As(err, &lerr) {
		c.AbortWithStatusJSON(statusFor(lerr.Code), errorBody{Error: errorDetail{
			Code:        string(lerr.Code),
			Message:     lerr.Message,
			PollID:      lerr.PollID,
			Participant: lerr.Participant,
		}})
		return
	}

	s.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: errorDetail{
		Code:    "INTERNAL",
		Message: "internal error",
	}})
}

// badRequest reports malformed input that never reached the ledger.
func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: errorDetail{
		Code:    string(ledger.ErrCodeInvalidArgument),
		Message: msg,
	}})
}
