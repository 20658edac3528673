package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// IsPermanent reports whether err explicitly declares that retrying cannot help.
// Plain errors are not permanent: they carry no retry hint either way.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrNotInitialized) {
		return true
	}
	var re RetriableError
	if errors.As(err, &re) {
		return !re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "tickers", "submit")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrPriceUnavailable is returned when the price source cannot produce a positive price.
	// The cycle is skipped; the next scheduled tick tries again.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrMarketNotFound is returned when the venue does not list the configured pair.
	ErrMarketNotFound = errors.New("market not found")

	// ErrQuantityTooSmall is returned when the sized quantity truncates to zero.
	ErrQuantityTooSmall = errors.New("quantity too small")

	// ErrPriceTooSmall is returned when a derived order price truncates to zero.
	ErrPriceTooSmall = errors.New("price too small")

	// ErrOrderSubmissionFailed marks a leg that did not produce an order on the venue.
	ErrOrderSubmissionFailed = errors.New("order submission failed")

	// ErrNoOrderIDs is the soft failure: the venue answered but created no order.
	ErrNoOrderIDs = errors.New("venue returned no order ids")

	// ErrNotInitialized is returned by venue calls made before InitSession succeeded.
	ErrNotInitialized = errors.New("venue session not initialized")

	// ErrLockHeld is returned when another process holds the cycle lock for a market.
	ErrLockHeld = errors.New("lock already held")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
