package trade

import (
	"errors"
	"fmt"
)

// Category is the failure taxonomy shared by the engines and the orchestrator.
type Category string

const (
	// CategoryValidation covers malformed or out-of-range caller input.
	CategoryValidation Category = "validation"

	// CategoryUnknownReference covers lookups that miss the reference tables
	// with no applicable default.
	CategoryUnknownReference Category = "unknown_reference"

	// CategoryExternal covers failures of collaborators outside the core
	// (classifier, visualizer, reporter).
	CategoryExternal Category = "external"

	// CategoryInvariant is always a defect.
	CategoryInvariant Category = "invariant"

	// CategoryNotFound is returned by the analysis store for unknown ids.
	CategoryNotFound Category = "not_found"
)

// Stable error codes exposed to callers.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeUnknownHSCode    = "UNKNOWN_HS_CODE"
	CodeUnknownReference = "UNKNOWN_REFERENCE_DATA"
	CodeClassification   = "CLASSIFICATION_FAILED"
	CodeExternal         = "EXTERNAL_STAGE_FAILED"
	CodeInvariant        = "COMPUTATION_INVARIANT_VIOLATED"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL_ERROR"
)

// Error is the typed error returned by every core component.
type Error struct {
	Category Category
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by code so callers can write
// errors.Is(err, trade.ErrUnknownHSCode).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Category == e.Category
}

// Sentinels for errors.Is checks. Returned errors carry their own message.
var (
	ErrValidation    = &Error{Category: CategoryValidation, Code: CodeValidation, Message: "invalid input"}
	ErrUnknownHSCode = &Error{Category: CategoryUnknownReference, Code: CodeUnknownHSCode, Message: "unknown hs code"}
	ErrInvariant     = &Error{Category: CategoryInvariant, Code: CodeInvariant, Message: "computation invariant violated"}
	ErrNotFound      = &Error{Category: CategoryNotFound, Code: CodeNotFound, Message: "not found"}
)

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) *Error {
	return &Error{Category: CategoryValidation, Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// UnknownHSCode builds the error returned when no tariff rate resolves.
func UnknownHSCode(hs HSCode) *Error {
	return &Error{Category: CategoryUnknownReference, Code: CodeUnknownHSCode, Message: fmt.Sprintf("hs code %q not found in tariff schedule and no global default configured", hs)}
}

// Invariantf builds a ComputationInvariantError.
func Invariantf(format string, args ...any) *Error {
	return &Error{Category: CategoryInvariant, Code: CodeInvariant, Message: fmt.Sprintf(format, args...)}
}

// External wraps a collaborator failure. The code identifies which one.
func External(code, message string, err error) *Error {
	return &Error{Category: CategoryExternal, Code: code, Message: message, Err: err}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Category: CategoryNotFound, Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// CategoryOf extracts the category of err; untyped errors are invariant
// failures from the caller's point of view.
func CategoryOf(err error) Category {
	var te *Error
	if errors.As(err, &te) {
		return te.Category
	}
	return CategoryInvariant
}
