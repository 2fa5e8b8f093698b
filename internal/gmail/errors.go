package gmail

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"
)

// ErrAuth is returned when no valid bearer token could be obtained
var ErrAuth = errors.New("authentication required")

// APIError is a non-2xx response from the Gmail API
type APIError struct {
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gmail api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gmail api: status %d", e.Status)
}

// HTTPStatus exposes the status to the retry classifier
func (e *APIError) HTTPStatus() int { return e.Status }

// convertError turns googleapi errors into *APIError and leaves the rest alone
func convertError(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{Status: gerr.Code, Message: gerr.Message, Body: gerr.Body}
	}
	return err
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsAuthError reports whether err means the session is no longer valid
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth) || StatusOf(err) == http.StatusUnauthorized
}

// UserMessage maps an error to text suitable for the UI error slot
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrAuth) {
		return "Your session has expired. Please sign in again."
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "Gmail servers are temporarily unavailable. Please try again later."
	}

	status := StatusOf(err)
	switch {
	case status == 0:
		return err.Error()
	case status == http.StatusUnauthorized:
		return "Your session has expired. Please sign in again."
	case status == http.StatusForbidden:
		return "Access denied. Check your Gmail permissions."
	case status == http.StatusNotFound:
		return "The requested resource was not found."
	case status == http.StatusTooManyRequests:
		return "Too many requests. Please wait a moment and try again."
	case status >= 500 && status <= 599:
		return "Gmail servers are temporarily unavailable. Please try again later."
	default:
		return fmt.Sprintf("Request failed (error %d). Please try again.", status)
	}
}
