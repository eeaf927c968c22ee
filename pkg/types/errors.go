package types

import (
	"errors"
	"fmt"
	"net/http"
)

// StoreError is the normalized shape of every non-2xx store response.
type StoreError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
	Type    string `json:"type,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func (e *StoreError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("store error %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("store error %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is a StoreError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Status == status
}

// IsUnauthorized reports whether err is a 401 from the store.
func IsUnauthorized(err error) bool {
	return IsStatus(err, http.StatusUnauthorized)
}

// AuthorizationError is returned by the access guard when a request is rejected.
type AuthorizationError struct {
	Table  string
	Op     Operation
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s on %s not permitted: %s", e.Op, e.Table, e.Reason)
}

// Is makes AuthorizationError match ErrForbidden.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrForbidden
}

// BatchError reports a multi-row write that stopped at the first failure.
// Rows before Index were applied and are not rolled back.
type BatchError struct {
	Index   int
	Applied int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("row %d failed after %d applied: %v", e.Index, e.Applied, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
