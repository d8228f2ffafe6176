package inventory

import (
	"errors"
	"fmt"
)

// ===== Error model =====
type Code string

const (
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT" // 処理済み・返却済みなど状態の競合
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeForbidden         Code = "FORBIDDEN"
	CodeInternal          Code = "INTERNAL"
)

// Reason は Code の下位分類
type Reason string

const (
	ReasonInvalidQuantity  Reason = "INVALID_QUANTITY"
	ReasonMissingDueDate   Reason = "MISSING_DUE_DATE"
	ReasonInvalidDueDate   Reason = "INVALID_DUE_DATE"
	ReasonInvalidPenalty   Reason = "INVALID_PENALTY"
	ReasonAlreadyProcessed Reason = "ALREADY_PROCESSED"
	ReasonAlreadyCollected Reason = "ALREADY_COLLECTED"
	ReasonAlreadyClosed    Reason = "ALREADY_CLOSED"
	ReasonAlreadyResolved  Reason = "ALREADY_RESOLVED"
	ReasonHasOpenLoans     Reason = "HAS_OPEN_LOANS"
	ReasonConcurrentUpdate Reason = "CONCURRENT_UPDATE"
)

type APIError struct {
	Code    Code
	Reason  Reason
	Message string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s(%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is: Code と Reason が一致すれば同じエラーとみなす（Message は比較しない）
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Reason == t.Reason
}

func ErrInvalid(msg string) *APIError           { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError          { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError          { return &APIError{Code: CodeConflict, Message: msg} }
func ErrForbidden(msg string) *APIError         { return &APIError{Code: CodeForbidden, Message: msg} }
func ErrInternal(msg string) *APIError          { return &APIError{Code: CodeInternal, Message: msg} }
func ErrInsufficientStock(msg string) *APIError { return &APIError{Code: CodeInsufficientStock, Message: msg} }

func withReason(e *APIError, r Reason) *APIError {
	e.Reason = r
	return e
}

// errors.Is で判定する用のセンチネル
var (
	ErrInvalidQuantity  = &APIError{Code: CodeInvalidArgument, Reason: ReasonInvalidQuantity, Message: "quantity must be > 0"}
	ErrMissingDueDate   = &APIError{Code: CodeInvalidArgument, Reason: ReasonMissingDueDate, Message: "due_date is required to approve"}
	ErrAlreadyProcessed = &APIError{Code: CodeConflict, Reason: ReasonAlreadyProcessed, Message: "request already processed"}
	ErrAlreadyCollected = &APIError{Code: CodeConflict, Reason: ReasonAlreadyCollected, Message: "loan already collected"}
	ErrAlreadyClosed    = &APIError{Code: CodeConflict, Reason: ReasonAlreadyClosed, Message: "loan already returned"}
	ErrAlreadyResolved  = &APIError{Code: CodeConflict, Reason: ReasonAlreadyResolved, Message: "alert already resolved"}
	ErrConcurrentUpdate = &APIError{Code: CodeConflict, Reason: ReasonConcurrentUpdate, Message: "concurrent update, retry later"}
)

// CodeOf: APIError 以外は INTERNAL
func CodeOf(err error) Code {
	var api *APIError
	if errors.As(err, &api) {
		return api.Code
	}
	return CodeInternal
}

func ToHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeForbidden:
			return 403
		case CodeNotFound:
			return 404
		case CodeConflict, CodeInsufficientStock:
			return 409
		case CodeInternal:
			return 500
		}
	}
	return 500
}
