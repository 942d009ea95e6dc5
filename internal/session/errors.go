package session

import (
	"errors"
	"fmt"
)

// ErrNoCredentials is wrapped by AuthError when an account has no stored credentials
var ErrNoCredentials = errors.New("no forum credentials configured")

// AuthError is returned when every login attempt for an account failed.
// It is terminal for the current poll cycle only.
type AuthError struct {
	AccountID int64
	Attempts  int
	Err       error // last login error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login for account %d failed after %d attempt(s): %v", e.AccountID, e.Attempts, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError checks if an error is a login exhaustion
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
