package portfolio

import (
	"errors"
	"fmt"
)

var (
	// ErrPortfolioNotFound indicates the portfolio does not exist or is
	// owned by a different user.
	ErrPortfolioNotFound = errors.New("portfolio: not found")
	// ErrStaleBase indicates the client's stated base version has no
	// matching ledger entry; the client must perform a full resync.
	ErrStaleBase = errors.New("portfolio: base version not found, full resync required")
	// ErrConcurrentWrite indicates two syncs raced on the same base and
	// this one lost the (portfolio_id, version) uniqueness check. The
	// caller must retry against the now-current server state; the engine
	// never retries with the same stale inputs.
	ErrConcurrentWrite = errors.New("portfolio: concurrent write detected")
)

// ServiceError tags an engine failure with an operation.reason code for
// logs and API error mapping.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
