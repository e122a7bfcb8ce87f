// Package apperr holds the error kinds shared by every service. Handlers turn
// them into HTTP responses; services never return raw storage errors.
package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type Kind int

const (
	KindNotFound Kind = iota + 1
	KindForbidden
	KindInvalidCredentials
	KindPasswordChangeRequired
	KindRateLimited
	KindInvalidOrExpiredToken
	KindConflict
	KindValidationFailed
	KindStorageUnavailable
	KindDeliveryFailed
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindPasswordChangeRequired:
		return "password_change_required"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidOrExpiredToken:
		return "invalid_or_expired_token"
	case KindConflict:
		return "conflict"
	case KindValidationFailed:
		return "validation_failed"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindDeliveryFailed:
		return "delivery_failed"
	}
	return "unknown"
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden              = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidCredentials     = &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	ErrPasswordChangeRequired = &Error{Kind: KindPasswordChangeRequired, Message: "password change required"}
	ErrRateLimited            = &Error{Kind: KindRateLimited, Message: "too many requests"}
	ErrInvalidOrExpiredToken  = &Error{Kind: KindInvalidOrExpiredToken, Message: "invalid or expired token"}
	ErrConflict               = &Error{Kind: KindConflict, Message: "conflict"}
	ErrValidationFailed       = &Error{Kind: KindValidationFailed, Message: "validation failed"}
	ErrStorageUnavailable     = &Error{Kind: KindStorageUnavailable, Message: "storage unavailable"}
	ErrDeliveryFailed         = &Error{Kind: KindDeliveryFailed, Message: "delivery failed"}
)

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NotFound(msg string) error   { return New(KindNotFound, msg) }
func Forbidden(msg string) error  { return New(KindForbidden, msg) }
func Conflict(msg string) error   { return New(KindConflict, msg) }
func Validation(msg string) error { return New(KindValidationFailed, msg) }

// KindOf returns the kind carried by err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// FromDB translates a GORM error. Domain errors pass through unchanged so that
// FromDB can wrap the result of a whole transaction.
func FromDB(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Wrap(KindNotFound, msg, err)
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		return Wrap(KindConflict, msg, err)
	}
	return Wrap(KindStorageUnavailable, msg, err)
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return fiber.StatusNotFound
	case KindForbidden:
		return fiber.StatusForbidden
	case KindInvalidCredentials:
		return fiber.StatusUnauthorized
	case KindPasswordChangeRequired:
		return fiber.StatusForbidden
	case KindRateLimited:
		return fiber.StatusTooManyRequests
	case KindInvalidOrExpiredToken, KindValidationFailed:
		return fiber.StatusBadRequest
	case KindConflict:
		return fiber.StatusConflict
	case KindStorageUnavailable, KindDeliveryFailed:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}
