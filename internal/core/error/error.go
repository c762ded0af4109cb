package errx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage is used when a key does not exist.
	RedisNotFoundMessage = "redis key not found"
)

// Error kinds. Match with errors.Is against any error returned by this package.
var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrArgumentParse       = errors.New("tool argument parse error")
	ErrToolNotFound        = errors.New("tool not found")
	ErrToolExecution       = errors.New("tool execution error")
	ErrPlotGeneration      = errors.New("plot generation error")
	ErrNotInitialized      = errors.New("not initialized")
)

var kindStatus = map[error]int{
	ErrProviderUnavailable: http.StatusServiceUnavailable,
	ErrArgumentParse:       http.StatusUnprocessableEntity,
	ErrToolNotFound:        http.StatusUnprocessableEntity,
	ErrToolExecution:       http.StatusBadGateway,
	ErrPlotGeneration:      http.StatusUnprocessableEntity,
	ErrNotInitialized:      http.StatusInternalServerError,
}

// AppError wraps an underlying error with a kind, an HTTP status and a safe message.
type AppError struct {
	Kind    error
	Err     error
	Status  int
	Message string
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches the error kind first, then the wrapped chain.
func (e *AppError) Is(target error) bool {
	if e.Kind != nil && target == e.Kind {
		return true
	}
	return errors.Is(e.Err, target)
}

// New creates an AppError without a kind.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Wrap attaches a kind to err. The status is derived from the kind.
func Wrap(kind, err error, message string) *AppError {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &AppError{
		Kind:    kind,
		Err:     err,
		Status:  status,
		Message: message,
	}
}

func ProviderUnavailable(provider string, err error) *AppError {
	return Wrap(ErrProviderUnavailable, err, fmt.Sprintf("provider %q unavailable", provider))
}

func ArgumentParse(tool string, err error) *AppError {
	return Wrap(ErrArgumentParse, err, fmt.Sprintf("invalid arguments for tool %q", tool))
}

func ToolNotFound(tool string) *AppError {
	return Wrap(ErrToolNotFound, nil, fmt.Sprintf("tool %q not found", tool))
}

func ToolExecution(tool string, err error) *AppError {
	return Wrap(ErrToolExecution, err, fmt.Sprintf("tool %q failed", tool))
}

func PlotGeneration(attempts int, err error) *AppError {
	return Wrap(ErrPlotGeneration, err, fmt.Sprintf("plot generation failed after %d attempt(s)", attempts))
}

func NotInitialized(component string) *AppError {
	return Wrap(ErrNotInitialized, nil, fmt.Sprintf("%s is not initialized; call Initialize first", component))
}

// WrapRedis maps Redis errors to AppError with a consistent status and message.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(err, http.StatusNotFound, RedisNotFoundMessage)
	}
	return New(err, http.StatusBadGateway, RedisErrorMessage)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	if ae, ok := As(err); ok && ae.Status != 0 {
		return ae.Status
	}
	return http.StatusInternalServerError
}
