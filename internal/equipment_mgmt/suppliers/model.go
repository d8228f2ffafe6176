package suppliers

import (
	"errors"
	"fmt"
	"time"
)

type Supplier struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ContactNo string    `json:"contact_no"`
	Email     string    `json:"email"`
	Street    string    `json:"street"`
	City      string    `json:"city"`
	Pincode   string    `json:"pincode"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateSupplierRequest struct {
	Name      string `json:"name" binding:"required"`
	ContactNo string `json:"contact_no"`
	Email     string `json:"email"`
	Street    string `json:"street"`
	City      string `json:"city"`
	Pincode   string `json:"pincode"`
}

// UpdateSupplierRequest: nil は変更なし
type UpdateSupplierRequest struct {
	Name      *string `json:"name,omitempty"`
	ContactNo *string `json:"contact_no,omitempty"`
	Email     *string `json:"email,omitempty"`
	Street    *string `json:"street,omitempty"`
	City      *string `json:"city,omitempty"`
	Pincode   *string `json:"pincode,omitempty"`
}

type Page struct {
	Limit  int
	Offset int
}

// ===== Error model =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeForbidden       Code = "FORBIDDEN"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string       { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError   { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError  { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrForbidden(msg string) *APIError { return &APIError{Code: CodeForbidden, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeForbidden:
			return 403
		case CodeNotFound:
			return 404
		}
	}
	return 500
}
