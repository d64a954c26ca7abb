package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not_found")
	ErrUsernameTaken   = errors.New("username_taken")
	ErrInviteNotFound  = errors.New("invite_not_found")
	ErrInviteCodeTaken = errors.New("invite_code_taken")
	ErrInviteUsed      = errors.New("invite_used")
	ErrInviteExpired   = errors.New("invite_expired")
	ErrSelfInvite      = errors.New("invite_self_accept")
	ErrValidation      = errors.New("validation")
)

// InviteMessage maps an invite redemption failure to the exact wording
// surfaced on the wire. Unknown errors map to a generic message so storage
// failures never leak internals to a client.
func InviteMessage(err error) string {
	switch {
	case errors.Is(err, ErrInviteNotFound):
		return "Invalid code"
	case errors.Is(err, ErrInviteUsed):
		return "Code already used"
	case errors.Is(err, ErrInviteExpired):
		return "Code expired"
	case errors.Is(err, ErrSelfInvite):
		return "Cannot accept your own invite"
	default:
		return "Could not accept invite"
	}
}

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}
