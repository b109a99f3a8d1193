package protocol

import (
	"errors"
	"fmt"
)

// Code is a stable numeric rejection code. Codes are part of the external
// contract: they are returned to callers, published with rejection outcomes,
// and used as metric labels. Never renumber.
type Code uint32

const (
	CodeNotAdmin                    Code = 1
	CodeNotOwner                    Code = 2
	CodeAddressMismatch             Code = 3
	CodeAlreadyInitialized          Code = 4
	CodeNotInitialized              Code = 5
	CodeInvalidInput                Code = 6
	CodeValueOutOfRange             Code = 7
	CodeInvalidConfigParam          Code = 8
	CodeInvalidDepositState         Code = 9
	CodeNotUnlockedYet              Code = 10
	CodeDepositAlreadyExists        Code = 11
	CodeNoDepositFound              Code = 12
	CodeDepositAmountOutOfBounds    Code = 13
	CodeCommissionRateOutOfBounds   Code = 14
	CodeInvalidLockPeriod           Code = 15
	CodeArithmeticOverflow          Code = 16
	CodeDivisionByZero              Code = 17
	CodeInsufficientBalance         Code = 18
	CodeInsufficientPoolBalance     Code = 19
	CodeInsufficientInterestBalance Code = 20
	CodePriceUnavailable            Code = 21
	CodePriceTooStale               Code = 22
	CodeInvalidRequest              Code = 23
)

func (c Code) String() string {
	switch c {
	case CodeNotAdmin:
		return "NotAdmin"
	case CodeNotOwner:
		return "NotOwner"
	case CodeAddressMismatch:
		return "AddressMismatch"
	case CodeAlreadyInitialized:
		return "AlreadyInitialized"
	case CodeNotInitialized:
		return "NotInitialized"
	case CodeInvalidInput:
		return "InvalidInput"
	case CodeValueOutOfRange:
		return "ValueOutOfRange"
	case CodeInvalidConfigParam:
		return "InvalidConfigParam"
	case CodeInvalidDepositState:
		return "InvalidDepositState"
	case CodeNotUnlockedYet:
		return "NotUnlockedYet"
	case CodeDepositAlreadyExists:
		return "DepositAlreadyExists"
	case CodeNoDepositFound:
		return "NoDepositFound"
	case CodeDepositAmountOutOfBounds:
		return "DepositAmountOutOfBounds"
	case CodeCommissionRateOutOfBounds:
		return "CommissionRateOutOfBounds"
	case CodeInvalidLockPeriod:
		return "InvalidLockPeriod"
	case CodeArithmeticOverflow:
		return "ArithmeticOverflow"
	case CodeDivisionByZero:
		return "DivisionByZero"
	case CodeInsufficientBalance:
		return "InsufficientBalance"
	case CodeInsufficientPoolBalance:
		return "InsufficientPoolBalance"
	case CodeInsufficientInterestBalance:
		return "InsufficientInterestBalance"
	case CodePriceUnavailable:
		return "PriceUnavailable"
	case CodePriceTooStale:
		return "PriceTooStale"
	case CodeInvalidRequest:
		return "InvalidRequest"
	default:
		return "Unknown"
	}
}

// Error is a coded rejection. The message carries the diagnostic detail
// (observed/expected states, offending values); the code carries the contract.
type Error struct {
	Code Code
	msg  string
	err  error
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches any *Error with the same code, so handlers can compare against
// bare-code sentinels: errors.Is(err, &Error{Code: CodeNotUnlockedYet}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error, keeping it unwrappable.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, msg: fmt.Sprintf("%s: %v", msg, err), err: err}
}

// CodeOf extracts the rejection code, or ok=false for uncoded errors.
func CodeOf(err error) (Code, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return 0, false
}

// CodeLabel returns the metric label for an error: the code name for coded
// rejections, "internal" for everything else.
func CodeLabel(err error) string {
	if code, ok := CodeOf(err); ok {
		return code.String()
	}
	return "internal"
}

func ErrNotAdmin(actor string) *Error {
	return newError(CodeNotAdmin, "caller is not an administrator: actor=%s", actor)
}

func ErrNotOwner(actor, owner string) *Error {
	return newError(CodeNotOwner, "caller does not own this deposit: actor=%s, owner=%s", actor, owner)
}

func ErrAddressMismatch(err error) *Error {
	return &Error{Code: CodeAddressMismatch, msg: err.Error(), err: err}
}

func ErrAlreadyInitialized() *Error {
	return newError(CodeAlreadyInitialized, "pool configuration already initialized")
}

func ErrNotInitialized() *Error {
	return newError(CodeNotInitialized, "pool configuration not initialized")
}

func ErrInvalidInput(detail string) *Error {
	return newError(CodeInvalidInput, "invalid input: %s", detail)
}

func ErrValueOutOfRange(field string, value int64) *Error {
	return newError(CodeValueOutOfRange, "value out of range: %s=%d", field, value)
}

func ErrInvalidConfigParam(selector uint8) *Error {
	return newError(CodeInvalidConfigParam, "invalid config parameter selector: %d", selector)
}

func ErrInvalidDepositState(current, expected string) *Error {
	return newError(CodeInvalidDepositState, "invalid deposit state: current=%s, expected=%s", current, expected)
}

func ErrNotUnlockedYet(now, unlock int64) *Error {
	return newError(CodeNotUnlockedYet, "deposit not yet unlocked: now=%d, unlock_time=%d", now, unlock)
}

func ErrDepositAlreadyExists(user string) *Error {
	return newError(CodeDepositAlreadyExists, "user already has a live deposit: user=%s", user)
}

func ErrNoDepositFound(user string) *Error {
	return newError(CodeNoDepositFound, "no deposit found: user=%s", user)
}

func ErrDepositAmountOutOfBounds(amount, min, max int64) *Error {
	return newError(CodeDepositAmountOutOfBounds, "deposit amount out of bounds: amount=%d, min=%d, max=%d", amount, min, max)
}

func ErrCommissionRateOutOfBounds(rate, min, max int64) *Error {
	return newError(CodeCommissionRateOutOfBounds, "commission rate out of bounds: rate=%d, min=%d, max=%d", rate, min, max)
}

func ErrInvalidLockPeriod(period int64) *Error {
	return newError(CodeInvalidLockPeriod, "lock period not allowed: period=%d", period)
}

func ErrArithmeticOverflow(op string) *Error {
	return newError(CodeArithmeticOverflow, "arithmetic overflow in %s", op)
}

func ErrDivisionByZero(op string) *Error {
	return newError(CodeDivisionByZero, "division by zero in %s", op)
}

func ErrInsufficientBalance(account string, balance, required int64) *Error {
	return newError(CodeInsufficientBalance, "insufficient balance: account=%s, balance=%d, required=%d", account, balance, required)
}

func ErrInsufficientPoolBalance(pool string, balance, required int64) *Error {
	return newError(CodeInsufficientPoolBalance, "insufficient pool balance: pool=%s, balance=%d, required=%d", pool, balance, required)
}

func ErrInsufficientInterestBalance(balance, required int64) *Error {
	return newError(CodeInsufficientInterestBalance, "insufficient interest balance for clawback: balance=%d, required=%d", balance, required)
}

func ErrPriceUnavailable(feed string) *Error {
	return newError(CodePriceUnavailable, "no price reading available: feed=%s", feed)
}

func ErrPriceTooStale(feed string, age, maxAge int64) *Error {
	return newError(CodePriceTooStale, "price reading too stale: feed=%s, age=%d, max_age=%d", feed, age, maxAge)
}

func ErrInvalidRequest(detail string) *Error {
	return newError(CodeInvalidRequest, "invalid request: %s", detail)
}
