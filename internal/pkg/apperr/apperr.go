// Package apperr defines the closed set of error codes returned by the
// marketplace core. Every code belongs to one Kind which decides how callers
// react: fix the input, give up, or retry later.
package apperr

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Code is a stable machine readable error identifier.
type Code string

const (
	CodeValidation          Code = "validation_failed"
	CodeBelowMinimumAmount  Code = "below_minimum_amount"
	CodeNotFound            Code = "not_found"
	CodeAccountNotFound     Code = "account_not_found"
	CodeTariffNotFound      Code = "tariff_not_found"
	CodeForbidden           Code = "forbidden"
	CodeUnauthorized        Code = "unauthorized"
	CodeAccountBanned       Code = "account_banned"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeTariffInactive      Code = "tariff_inactive"
	CodeNotPending          Code = "not_pending"
	CodeRequestExpired      Code = "request_expired"
	CodeAlreadyCompleted    Code = "already_completed"
	CodeInvalidTransition   Code = "invalid_transition"
	CodeRateLimited         Code = "rate_limited"
	CodeInternal            Code = "internal"
)

// Kind groups codes by the reaction expected from the caller.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindStateConflict  Kind = "state_conflict"
	KindResource       Kind = "resource"
	KindThrottling     Kind = "throttling"
	KindInfrastructure Kind = "infrastructure"
)

var codeKinds = map[Code]Kind{
	CodeValidation:          KindValidation,
	CodeBelowMinimumAmount:  KindValidation,
	CodeNotFound:            KindResource,
	CodeAccountNotFound:     KindResource,
	CodeTariffNotFound:      KindResource,
	CodeForbidden:           KindResource,
	CodeUnauthorized:        KindResource,
	CodeAccountBanned:       KindResource,
	CodeInsufficientBalance: KindResource,
	CodeTariffInactive:      KindStateConflict,
	CodeNotPending:          KindStateConflict,
	CodeRequestExpired:      KindStateConflict,
	CodeAlreadyCompleted:    KindStateConflict,
	CodeInvalidTransition:   KindStateConflict,
	CodeRateLimited:         KindThrottling,
	CodeInternal:            KindInfrastructure,
}

var codeStatus = map[Code]int{
	CodeValidation:          fiber.StatusBadRequest,
	CodeBelowMinimumAmount:  fiber.StatusBadRequest,
	CodeNotFound:            fiber.StatusNotFound,
	CodeAccountNotFound:     fiber.StatusNotFound,
	CodeTariffNotFound:      fiber.StatusNotFound,
	CodeForbidden:           fiber.StatusForbidden,
	CodeUnauthorized:        fiber.StatusUnauthorized,
	CodeAccountBanned:       fiber.StatusForbidden,
	CodeInsufficientBalance: fiber.StatusPaymentRequired,
	CodeTariffInactive:      fiber.StatusConflict,
	CodeNotPending:          fiber.StatusConflict,
	CodeRequestExpired:      fiber.StatusConflict,
	CodeAlreadyCompleted:    fiber.StatusConflict,
	CodeInvalidTransition:   fiber.StatusConflict,
	CodeRateLimited:         fiber.StatusTooManyRequests,
	CodeInternal:            fiber.StatusInternalServerError,
}

// Error is the concrete error type carried through services and controllers.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Kind returns the category of the error code.
func (e *Error) Kind() Kind {
	if k, ok := codeKinds[e.Code]; ok {
		return k
	}
	return KindInfrastructure
}

// RetryAfterSeconds rounds the retry hint up to whole seconds.
func (e *Error) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Validation builds a validation error with a custom message.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// RateLimited builds a throttling error carrying the retry hint.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Code: CodeRateLimited, Message: "too many requests, retry later", RetryAfter: retryAfter}
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation          = New(CodeValidation, "invalid input")
	ErrBelowMinimumAmount  = New(CodeBelowMinimumAmount, "amount is below the configured minimum")
	ErrNotFound            = New(CodeNotFound, "resource not found")
	ErrAccountNotFound     = New(CodeAccountNotFound, "account not found")
	ErrTariffNotFound      = New(CodeTariffNotFound, "tariff plan not found")
	ErrForbidden           = New(CodeForbidden, "not allowed to access this resource")
	ErrUnauthorized        = New(CodeUnauthorized, "authentication required")
	ErrAccountBanned       = New(CodeAccountBanned, "account is banned")
	ErrInsufficientBalance = New(CodeInsufficientBalance, "insufficient balance")
	ErrTariffInactive      = New(CodeTariffInactive, "tariff plan is not active")
	ErrNotPending          = New(CodeNotPending, "request is not pending")
	ErrRequestExpired      = New(CodeRequestExpired, "request has expired")
	ErrAlreadyCompleted    = New(CodeAlreadyCompleted, "publication is already completed")
	ErrInvalidTransition   = New(CodeInvalidTransition, "transition not allowed from current state")
	ErrRateLimited         = New(CodeRateLimited, "too many requests, retry later")
)

// As extracts the *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// KindOf returns the kind of err; foreign errors are infrastructure errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind()
	}
	return KindInfrastructure
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	if s, ok := codeStatus[CodeOf(err)]; ok {
		return s
	}
	return fiber.StatusInternalServerError
}

// IsRetryable reports whether the caller may retry the same request later.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindThrottling {
		return true
	}
	var r interface{ Temporary() bool }
	if errors.As(err, &r) {
		return r.Temporary()
	}
	return false
}
