package apperrors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation              Code = "VALIDATION_ERROR"
	CodeUnauthorized            Code = "UNAUTHORIZED"
	CodeForbidden               Code = "FORBIDDEN"
	CodeNotFound                Code = "NOT_FOUND"
	CodeConflict                Code = "CONFLICT"
	CodeInsufficientStock       Code = "INSUFFICIENT_STOCK"
	CodeInvalidStatusTransition Code = "INVALID_STATUS_TRANSITION"
	CodePaymentLinkFailed       Code = "PAYMENT_LINK_CREATION_FAILED"
	CodeOrderNotPayable         Code = "ORDER_NOT_PAYABLE"
	CodeInternal                Code = "INTERNAL_ERROR"
)

// Metadata describes how a code is surfaced to HTTP clients.
type Metadata struct {
	HTTPStatus    int
	Retryable     bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:              {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed"},
	CodeUnauthorized:            {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
	CodeForbidden:               {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied"},
	CodeNotFound:                {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeConflict:                {HTTPStatus: http.StatusConflict, Retryable: true, PublicMessage: "conflict detected"},
	CodeInsufficientStock:       {HTTPStatus: http.StatusConflict, PublicMessage: "insufficient stock"},
	CodeInvalidStatusTransition: {HTTPStatus: http.StatusConflict, PublicMessage: "status transition not allowed"},
	CodePaymentLinkFailed:       {HTTPStatus: http.StatusBadGateway, Retryable: true, PublicMessage: "payment link creation failed"},
	CodeOrderNotPayable:         {HTTPStatus: http.StatusConflict, PublicMessage: "order is not awaiting payment"},
	CodeInternal:                {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As extracts the first *Error in err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// StockShortage names the line item that could not be reserved.
type StockShortage struct {
	ProductID   int64  `json:"productId"`
	ProductName string `json:"productName"`
	Size        string `json:"size,omitempty"`
	Available   int    `json:"available"`
	Requested   int    `json:"requested"`
}

func InsufficientStock(s StockShortage) *Error {
	msg := fmt.Sprintf("insufficient stock for %s: available=%d, requested=%d", s.ProductName, s.Available, s.Requested)
	if s.Size != "" {
		msg = fmt.Sprintf("insufficient stock for %s (size %s): available=%d, requested=%d", s.ProductName, s.Size, s.Available, s.Requested)
	}
	return New(CodeInsufficientStock, msg).WithDetails(s)
}

// StatusTransition names a rejected current/requested pair.
type StatusTransition struct {
	Current   string `json:"current"`
	Requested string `json:"requested"`
}

func InvalidStatusTransition(current, requested string) *Error {
	return New(CodeInvalidStatusTransition, fmt.Sprintf("cannot move order from %s to %s", current, requested)).
		WithDetails(StatusTransition{Current: current, Requested: requested})
}

func NotFound(what string) *Error {
	return New(CodeNotFound, what+" not found")
}
