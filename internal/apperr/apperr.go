package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindValidation                Kind = "validation"
	KindPriceNotAvailable         Kind = "price_not_available"
	KindNoPricingTier             Kind = "no_pricing_tier"
	KindInsufficientBalance       Kind = "insufficient_balance"
	KindIdentityDocumentsRequired Kind = "identity_documents_required"
	KindShipmentNotFound          Kind = "shipment_not_found"
	KindNotFound                  Kind = "not_found"
	KindInvalidStatusTransition   Kind = "invalid_status_transition"
	KindForbidden                 Kind = "forbidden"
	KindStorage                   Kind = "storage"
)

// Error is a business-rule failure the caller can act on. Anything that is not
// an *Error is treated as a storage failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same kind, so sentinels below work with
// errors.Is regardless of the concrete message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation                = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrPriceNotAvailable         = &Error{Kind: KindPriceNotAvailable, Message: "price not available for this destination and category"}
	ErrNoPricingTierFound        = &Error{Kind: KindNoPricingTier, Message: "no pricing tier found for this weight"}
	ErrInsufficientBalance       = &Error{Kind: KindInsufficientBalance, Message: "insufficient balance, please top up your account"}
	ErrIdentityDocumentsRequired = &Error{Kind: KindIdentityDocumentsRequired, Message: "identity documents and identity number are required for this destination"}
	ErrShipmentNotFound          = &Error{Kind: KindShipmentNotFound, Message: "shipment not found"}
	ErrNotFound                  = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidStatusTransition   = &Error{Kind: KindInvalidStatusTransition, Message: "invalid status transition"}
	ErrForbidden                 = &Error{Kind: KindForbidden, Message: "staff access required"}
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return Newf(KindInvalidStatusTransition, format, args...)
}

// KindOf classifies err. Unknown errors are storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// Message returns the caller-facing message. Storage failures never leak
// driver details.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal storage error"
}
