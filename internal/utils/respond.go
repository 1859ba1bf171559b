package utils

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"kyri56xcaesar/pms-kanban/internal/access"
	"kyri56xcaesar/pms-kanban/internal/logger"
	"kyri56xcaesar/pms-kanban/internal/store"
)

// HTTPError carries an explicit status for errors raised by handlers.
type HTTPError struct {
	Status  int
	Message string
	Details []string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func BadRequest(msg string, details ...string) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Message: msg, Details: details}
}

func Unauthorized(msg string) *HTTPError {
	return &HTTPError{Status: http.StatusUnauthorized, Message: msg}
}

func Forbidden(msg string) *HTTPError {
	return &HTTPError{Status: http.StatusForbidden, Message: msg}
}

func NotImplemented(msg string) *HTTPError {
	return &HTTPError{Status: http.StatusNotImplemented, Message: msg}
}

// RespondError writes the JSON error body matching err and aborts the
// chain. Unknown errors are logged and reported as 500.
func RespondError(c *gin.Context, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
	}
	c.AbortWithStatusJSON(status, body)
}

func errorBody(err error) (int, gin.H) {
	var (
		httpErr *HTTPError
		verrs   validator.ValidationErrors
		syntax  *json.SyntaxError
		typeErr *json.UnmarshalTypeError
		numErr  *strconv.NumError
	)

	switch {
	case errors.As(err, &httpErr):
		body := gin.H{"error": httpErr.Message}
		if len(httpErr.Details) > 0 {
			body["details"] = httpErr.Details
		}
		return httpErr.Status, body
	case errors.As(err, &verrs):
		return http.StatusBadRequest, gin.H{"error": "validation failed", "details": ValidationDetails(verrs)}
	case errors.As(err, &syntax), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return http.StatusBadRequest, gin.H{"error": "invalid request body"}
	case errors.As(err, &typeErr):
		return http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": []string{ToSnakeCase(typeErr.Field) + " has the wrong type"},
		}
	case errors.As(err, &numErr):
		return http.StatusBadRequest, gin.H{"error": "invalid query", "details": []string{numErr.Num + " is not a number"}}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": err.Error()}
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, gin.H{"error": err.Error()}
	case errors.Is(err, access.ErrForbidden):
		return http.StatusForbidden, gin.H{"error": "forbidden"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal error"}
	}
}
