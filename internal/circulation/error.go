package circulation

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeNotFound      Code = "NOT_FOUND"
	CodeInvalidID     Code = "INVALID_ID"
	CodeAlreadyClosed Code = "ALREADY_CLOSED"
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeConflict      Code = "CONFLICT"
	CodeServer        Code = "SERVER_ERROR"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// IsWarning は処理が行われなかっただけの結果か（HTTP 200 + warning で返す）
func (e *APIError) IsWarning() bool { return e.Code == CodeAlreadyClosed }

func ErrNotFound(msg string) *APIError   { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrInvalidID(msg string) *APIError  { return &APIError{Code: CodeInvalidID, Message: msg} }
func ErrValidation(msg string) *APIError { return &APIError{Code: CodeValidation, Message: msg} }
func ErrConflict(msg string) *APIError   { return &APIError{Code: CodeConflict, Message: msg} }
func ErrServer(msg string) *APIError     { return &APIError{Code: CodeServer, Message: msg} }

func ErrAlreadyClosed() *APIError {
	return &APIError{Code: CodeAlreadyClosed, Message: "borrow is already returned"}
}

// CodeOf は err の Code を返す。APIError 以外は SERVER_ERROR。
func CodeOf(err error) Code {
	var api *APIError
	if errors.As(err, &api) {
		return api.Code
	}
	return CodeServer
}

func ToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation, CodeInvalidID:
		return 400
	case CodeNotFound:
		return 404
	case CodeConflict:
		return 409
	case CodeAlreadyClosed:
		return 200
	default:
		return 500
	}
}
