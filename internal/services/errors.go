package services

import (
	"errors"
	"net/http"

	"github.com/ajramos/ebbsync/internal/gmail"
)

// Standard service errors
var (
	// Sync errors
	ErrRefreshInProgress = errors.New("refresh already in progress")
	ErrSendInProgress    = errors.New("send already in progress")
	ErrNotFound          = errors.New("resource not found")
	ErrNoThreadSelected  = errors.New("no thread selected")
	ErrInvalidDraft      = errors.New("draft needs at least one recipient and a body")
	ErrInvalidInput      = errors.New("invalid input provided")

	// AI service specific errors
	ErrAIUnavailable = errors.New("AI formatter not configured")
)

// IsRetryableError determines if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, gmail.ErrAuth) {
		return false
	}
	status := gmail.StatusOf(err)
	return status == http.StatusTooManyRequests || status >= 500
}

// IsPermanentError determines if an error is permanent and should not be retried
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gmail.ErrAuth) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidDraft) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNoThreadSelected) {
		return true
	}
	status := gmail.StatusOf(err)
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}
