package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrConnectionFailed = errors.New("connection failed")
	ErrCancelled        = errors.New("cancelled")
)

// Category is the terminal classification of a retrieval failure.
type Category string

const (
	CategoryAuthenticationFailure Category = "AuthenticationFailure"
	CategoryConnectionTimeout     Category = "ConnectionTimeout"
	CategoryProtocolError         Category = "ProtocolError"
	CategoryConfigurationError    Category = "ConfigurationError"
	CategoryCancelled             Category = "Cancelled"
	CategoryUnknown               Category = "Unknown"
)

// DiscoveryError is a structured error for file-discovery operations.
type DiscoveryError struct {
	Category   Category
	Op         string // Operation that failed (e.g., "list", "test_connection")
	Tenant     string
	Config     string
	Err        error // Underlying error
	StatusCode int   // HTTP/FTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *DiscoveryError) Error() string {
	if e.Tenant != "" && e.Config != "" {
		return fmt.Sprintf("%s failed for %s/%s: %v", e.Op, e.Tenant, e.Config, e.Err)
	}
	if e.Tenant != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Tenant, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *DiscoveryError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrUnauthorized:
		return e.Category == CategoryAuthenticationFailure
	case ErrTimeout:
		return e.Category == CategoryConnectionTimeout
	case ErrConnectionFailed:
		return e.Category == CategoryProtocolError
	case ErrInvalidConfig:
		return e.Category == CategoryConfigurationError
	case ErrCancelled:
		return e.Category == CategoryCancelled
	}

	return errors.Is(e.Err, target)
}

// New creates a DiscoveryError with the given category.
func New(category Category, op string, err error) *DiscoveryError {
	return &DiscoveryError{
		Category:  category,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: categoryRetryable(category),
	}
}

// WithTenant stamps tenant/config context onto the error.
func (e *DiscoveryError) WithTenant(tenantID, configID string) *DiscoveryError {
	e.Tenant = tenantID
	e.Config = configID
	return e
}

// WithStatusCode adds a protocol status code and refines retryability.
func (e *DiscoveryError) WithStatusCode(code int) *DiscoveryError {
	e.StatusCode = code
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

func categoryRetryable(category Category) bool {
	switch category {
	case CategoryConnectionTimeout:
		return true
	case CategoryProtocolError:
		// 5xx / connection faults are transient; refined by WithStatusCode.
		return true
	default:
		return false
	}
}

// Classify maps an arbitrary error to its terminal category.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var discErr *DiscoveryError
	if errors.As(err, &discErr) {
		return discErr.Category
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return CategoryCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return CategoryConnectionTimeout
	}
	if errors.Is(err, ErrUnauthorized) {
		return CategoryAuthenticationFailure
	}
	if errors.Is(err, ErrInvalidConfig) {
		return CategoryConfigurationError
	}
	if errors.Is(err, ErrConnectionFailed) {
		return CategoryProtocolError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryConnectionTimeout
		}
		return CategoryProtocolError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "unauthorized", "forbidden", "login failed", "authentication failed", "401", "403"):
		return CategoryAuthenticationFailure
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return CategoryConnectionTimeout
	case containsAny(msg, "connection refused", "connection reset", "no such host", "host not found", "broken pipe", "service unavailable", "temporarily unavailable"):
		return CategoryProtocolError
	}
	return CategoryUnknown
}

// IsRetryable reports whether the retry policy may re-attempt after err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var discErr *DiscoveryError
	if errors.As(err, &discErr) {
		return discErr.Retryable
	}

	switch Classify(err) {
	case CategoryConnectionTimeout, CategoryProtocolError:
		return true
	default:
		return false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
