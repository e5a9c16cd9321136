// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package status defines the closed set of receipt outcomes returned
// to senders, and the structured error that carries one of them
// through authentication, filtering, and demultiplexing.
//
// Every fatal condition in the pipeline is a *Error holding a Code.
// The HTTP layer maps the Code to a response status and renders
// "<number> - <message>" in the body, so senders can act on the
// numeric code without parsing prose.
package status

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a receipt outcome. The set is closed: every value is
// declared below and has a fixed HTTP status and numeric code.
type Code int

const (
	OK Code = iota
	FeedMustBeSpecified
	FeedIsNotDefined
	FeedIsNotSetToReceiveData
	UnexpectedDataType
	InvalidFeedName
	ClientCertificateRequired
	ClientTokenRequired
	ClientTokenOrCertRequired
	ClientCertificateNotAuthenticated
	ClientTokenNotAuthenticated
	ClientDataFeedKeyNotAuthenticated
	ClientDataFeedKeyNotAuthorised
	CompressedStreamInvalid
	UnknownCompression
	OutOfOrderFeed
	RejectedByPolicyRules
	UnknownError
)

type definition struct {
	name       string
	httpStatus int
	number     int
	message    string
}

var definitions = [...]definition{
	OK:                                {"OK", http.StatusOK, 0, "OK"},
	FeedMustBeSpecified:               {"FEED_MUST_BE_SPECIFIED", http.StatusNotAcceptable, 100, "Feed must be specified"},
	FeedIsNotDefined:                  {"FEED_IS_NOT_DEFINED", http.StatusNotAcceptable, 101, "Feed is not defined"},
	FeedIsNotSetToReceiveData:         {"FEED_IS_NOT_SET_TO_RECEIVE_DATA", http.StatusNotAcceptable, 110, "Feed is not set to receive data"},
	UnexpectedDataType:                {"UNEXPECTED_DATA_TYPE", http.StatusNotAcceptable, 120, "Unexpected data type"},
	InvalidFeedName:                   {"INVALID_FEED_NAME", http.StatusNotAcceptable, 130, "Invalid feed name"},
	ClientCertificateRequired:         {"CLIENT_CERTIFICATE_REQUIRED", http.StatusUnauthorized, 300, "Client certificate required"},
	ClientTokenRequired:               {"CLIENT_TOKEN_REQUIRED", http.StatusUnauthorized, 301, "Client token required"},
	ClientTokenOrCertRequired:         {"CLIENT_TOKEN_OR_CERT_REQUIRED", http.StatusUnauthorized, 302, "Client token or certificate required"},
	ClientCertificateNotAuthenticated: {"CLIENT_CERTIFICATE_NOT_AUTHENTICATED", http.StatusUnauthorized, 310, "Client certificate not authenticated"},
	ClientTokenNotAuthenticated:       {"CLIENT_TOKEN_NOT_AUTHENTICATED", http.StatusUnauthorized, 311, "Client token not authenticated"},
	ClientDataFeedKeyNotAuthenticated: {"CLIENT_DATA_FEED_KEY_NOT_AUTHENTICATED", http.StatusUnauthorized, 312, "Data feed key not authenticated"},
	ClientDataFeedKeyNotAuthorised:    {"CLIENT_DATA_FEED_KEY_NOT_AUTHORISED", http.StatusForbidden, 322, "Data feed key not authorised for feed"},
	CompressedStreamInvalid:           {"COMPRESSED_STREAM_INVALID", http.StatusNotAcceptable, 400, "Compressed stream invalid"},
	UnknownCompression:                {"UNKNOWN_COMPRESSION", http.StatusNotAcceptable, 401, "Unknown compression"},
	OutOfOrderFeed:                    {"OUT_OF_ORDER_FEED", http.StatusNotAcceptable, 402, "Header and data out of order for multiple feed data"},
	RejectedByPolicyRules:             {"REJECTED_BY_POLICY_RULES", http.StatusNotAcceptable, 405, "Data rejected by policy rules"},
	UnknownError:                      {"UNKNOWN_ERROR", http.StatusInternalServerError, 999, "Unknown error"},
}

func (code Code) definition() definition {
	if code < 0 || int(code) >= len(definitions) {
		return definitions[UnknownError]
	}
	return definitions[code]
}

// String returns the upper-snake name, e.g. "FEED_IS_NOT_DEFINED".
func (code Code) String() string {
	if code < 0 || int(code) >= len(definitions) {
		return fmt.Sprintf("Code(%d)", int(code))
	}
	return definitions[code].name
}

// HTTPStatus returns the HTTP response status for the code.
func (code Code) HTTPStatus() int { return code.definition().httpStatus }

// Number returns the numeric code sent to clients.
func (code Code) Number() int { return code.definition().number }

// Message returns the fixed human-readable message.
func (code Code) Message() string { return code.definition().message }

// Codes returns every declared code in declaration order.
func Codes() []Code {
	codes := make([]Code, len(definitions))
	for i := range definitions {
		codes[i] = Code(i)
	}
	return codes
}

// Error is a fatal receipt outcome. Detail adds request-specific
// context to the code's fixed message; Err is the underlying cause,
// if any, and is never sent to the client.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

// New returns an Error with the given code and detail.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Errorf returns an Error whose detail is formatted from format and
// args. A %w verb in format also sets Err.
func Errorf(code Code, format string, args ...any) *Error {
	formatted := fmt.Errorf(format, args...)
	return &Error{Code: code, Detail: formatted.Error(), Err: errors.Unwrap(formatted)}
}

// Wrap returns an Error with the given code whose cause is err.
func Wrap(code Code, err error, detail string) *Error {
	return &Error{Code: code, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code.Message()
	}
	return e.Code.Message() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// ClientMessage renders the "<number> - <message>" line returned to
// senders. The cause is deliberately omitted.
func (e *Error) ClientMessage() string {
	if e.Detail == "" {
		return fmt.Sprintf("%d - %s", e.Code.Number(), e.Code.Message())
	}
	return fmt.Sprintf("%d - %s: %s", e.Code.Number(), e.Code.Message(), e.Detail)
}

// From returns err as a *Error. Errors that do not carry a status are
// wrapped as UnknownError. Returns nil for a nil err.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var statusError *Error
	if errors.As(err, &statusError) {
		return statusError
	}
	return Wrap(UnknownError, err, "")
}

// CodeOf returns the status code carried by err, OK for nil, and
// UnknownError for errors without a status.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	return From(err).Code
}
