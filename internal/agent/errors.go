package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is across the engine and its callers
var (
	// ErrActionTimeout means one action overran its per-action budget
	ErrActionTimeout = errors.New("action timed out")
	// ErrScriptTimeout means the whole script overran its total budget
	ErrScriptTimeout = errors.New("script timed out")
	// ErrSessionClosed means the page stopped answering the liveness probe
	ErrSessionClosed = errors.New("browser session closed")
	// ErrInvalidAction rejects a malformed action descriptor
	ErrInvalidAction = errors.New("invalid action")
	// ErrInvalidPolicy rejects an inconsistent timeout policy
	ErrInvalidPolicy = errors.New("invalid timeout policy")
)

// ErrorCategory represents the type of error
type ErrorCategory string

const (
	// ErrorCategoryBrowser for browser-related errors
	ErrorCategoryBrowser ErrorCategory = "browser"
	// ErrorCategoryNetwork for network/connectivity errors
	ErrorCategoryNetwork ErrorCategory = "network"
	// ErrorCategoryTimeout for timeout errors
	ErrorCategoryTimeout ErrorCategory = "timeout"
	// ErrorCategoryLLM for LLM API errors
	ErrorCategoryLLM ErrorCategory = "llm"
	// ErrorCategoryStorage for S3/storage errors
	ErrorCategoryStorage ErrorCategory = "storage"
	// ErrorCategorySessionClosed for a page that went away mid-run
	ErrorCategorySessionClosed ErrorCategory = "session_closed"
	// ErrorCategoryDetection for classifier and probe failures
	ErrorCategoryDetection ErrorCategory = "detection"
	// ErrorCategoryAction for a single action that failed to perform
	ErrorCategoryAction ErrorCategory = "action"
	// ErrorCategoryConfig for invalid configuration or scripts
	ErrorCategoryConfig ErrorCategory = "config"
	// ErrorCategoryUnknown for uncategorized errors
	ErrorCategoryUnknown ErrorCategory = "unknown"
)

// CategorizedError wraps an error with category and retry info
type CategorizedError struct {
	Category  ErrorCategory
	Original  error
	Retryable bool
	Message   string
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Message, e.Original)
}

// Unwrap implements error unwrapping
func (e *CategorizedError) Unwrap() error {
	return e.Original
}

// NewBrowserError creates a browser-related error
func NewBrowserError(message string, err error) *CategorizedError {
	return &CategorizedError{
		Category:  ErrorCategoryBrowser,
		Original:  err,
		Retryable: true,
		Message:   message,
	}
}

// NewNetworkError creates a network-related error
func NewNetworkError(message string, err error) *CategorizedError {
	return &CategorizedError{
		Category:  ErrorCategoryNetwork,
		Original:  err,
		Retryable: true,
		Message:   message,
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string, err error) *CategorizedError {
	return &CategorizedError{
		Category:  ErrorCategoryTimeout,
		Original:  err,
		Retryable: true,
		Message:   message,
	}
}

// NewSessionClosedError creates an error for a page that stopped responding
func NewSessionClosedError(message string, err error) *CategorizedError {
	return &CategorizedError{
		Category:  ErrorCategorySessionClosed,
		Original:  err,
		Retryable: false,
		Message:   message,
	}
}

// NewDetectionError creates an error for a page query that gave no usable answer
func NewDetectionError(message string, err error) *CategorizedError {
	return &CategorizedError{
		Category:  ErrorCategoryDetection,
		Original:  err,
		Retryable: false,
		Message:   message,
	}
}

// NewActionError creates an error for a failed action
func NewActionError(message string, err error) *CategorizedError {
	return &CategorizedError{
		Category:  ErrorCategoryAction,
		Original:  err,
		Retryable: false,
		Message:   message,
	}
}

// NewConfigError creates a configuration error
func NewConfigError(message string, err error) *CategorizedError {
	return &CategorizedError{
		Category:  ErrorCategoryConfig,
		Original:  err,
		Retryable: false,
		Message:   message,
	}
}

// NewLLMError creates an LLM API error
func NewLLMError(message string, err error) *CategorizedError {
	return &CategorizedError{
		Category:  ErrorCategoryLLM,
		Original:  err,
		Retryable: true,
		Message:   message,
	}
}

// NewStorageError creates a storage error
func NewStorageError(message string, err error) *CategorizedError {
	return &CategorizedError{
		Category:  ErrorCategoryStorage,
		Original:  err,
		Retryable: true,
		Message:   message,
	}
}

// CategoryOf returns the category of the first CategorizedError in err's
// chain, or ErrorCategoryUnknown.
func CategoryOf(err error) ErrorCategory {
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}
	return ErrorCategoryUnknown
}

// IsFatal reports whether err must stop a script run. Only timeouts are fatal;
// everything else is logged and the run continues.
func IsFatal(err error) bool {
	return errors.Is(err, ErrActionTimeout) || errors.Is(err, ErrScriptTimeout) ||
		CategoryOf(err) == ErrorCategoryTimeout
}

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []ErrorCategory
}

// DefaultRetryConfig returns sensible retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: []ErrorCategory{
			ErrorCategoryNetwork,
			ErrorCategoryTimeout,
			ErrorCategoryLLM,
		},
	}
}

// Retry executes a function with exponential backoff retry logic
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		// Execute function
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		// Check if we should retry
		if !shouldRetry(err, config) {
			return err
		}

		// Check if we have more attempts
		if attempt < config.MaxAttempts-1 {
			// Calculate delay with exponential backoff
			delay := calculateDelay(attempt, config)

			// Wait with context cancellation support
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
				// Continue to next attempt
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", config.MaxAttempts, lastErr)
}

// shouldRetry determines if an error is retryable
func shouldRetry(err error, config RetryConfig) bool {
	// Check if it's a categorized error
	var catErr *CategorizedError
	if !errors.As(err, &catErr) {
		// Unknown errors are not retryable by default
		return false
	}

	if !catErr.Retryable {
		return false
	}

	// Check if category is in retryable list
	for _, category := range config.RetryableErrors {
		if catErr.Category == category {
			return true
		}
	}

	return false
}

// calculateDelay calculates retry delay with exponential backoff
func calculateDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay)

	// Apply exponential backoff
	for i := 0; i < attempt; i++ {
		delay *= config.BackoffFactor
	}

	// Cap at max delay
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}
