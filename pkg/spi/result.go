// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package spi

import "fmt"

// Result is the return value of every public Hook Manager and SPI operation.
//   - 0 is never a legal return,
//   - 1 means success,
//   - [10, 100) are recoverable failures of the single operation,
//   - [100, ...) mean normal operation is no longer possible.
//
// Values are part of the plugin ABI. Add new codes, never renumber.
type Result int16

const (
	Undefined             Result = 0
	Success               Result = 1
	FailureGeneric        Result = 10
	FailureDuplicacy      Result = 11
	FailureHooking        Result = 12
	FailureInvalidParam   Result = 13
	FailureUnsupportedYet Result = 14
	ErrorFatal            Result = 100
	ErrorSystemCall       Result = 115
)

const (
	failureLow = 10
	fatalLow   = 100
)

// String returns a human-readable description of the code.
func (r Result) String() string {
	switch r {
	case Undefined:
		return "Undefined - illegal return code"
	case Success:
		return "Success"
	case FailureGeneric:
		return "FailureGeneric - unspecified error"
	case FailureDuplicacy:
		return "FailureDuplicacy - something unique was not unique"
	case FailureHooking:
		return "FailureHooking - redirection primitive returned an error"
	case FailureInvalidParam:
		return "FailureInvalidParam - illegal parameter passed to an SPI method"
	case FailureUnsupportedYet:
		return "FailureUnsupportedYet - feature is defined in SPI but not provided"
	case ErrorFatal:
		return "ErrorFatal - unspecified error after which execution cannot continue"
	case ErrorSystemCall:
		return "ErrorSystemCall - an operating system call failed"
	default:
		return fmt.Sprintf("unrecognized result (%d)", int16(r))
	}
}

// Valid reports whether r is one of the enumerated codes.
func (r Result) Valid() bool {
	switch r {
	case Success, FailureGeneric, FailureDuplicacy, FailureHooking,
		FailureInvalidParam, FailureUnsupportedYet, ErrorFatal, ErrorSystemCall:
		return true
	}
	return false
}

// IsSuccess reports whether the operation completed.
func (r Result) IsSuccess() bool { return r == Success }

// IsFailure reports whether r is in the recoverable tier.
func (r Result) IsFailure() bool { return r >= failureLow && r < fatalLow }

// IsFatal reports whether r is in the non-continuable tier.
func (r Result) IsFatal() bool { return r >= fatalLow }

// Err converts r into an error. Success yields nil.
func (r Result) Err() error {
	if r == Success {
		return nil
	}
	return &ResultError{Code: r}
}

// ResultError carries a non-success Result through Go error chains.
type ResultError struct {
	Code Result
	Op   string
}

func (e *ResultError) Error() string {
	if e.Op == "" {
		return e.Code.String()
	}
	return e.Op + ": " + e.Code.String()
}

// Is matches another *ResultError with the same code, so
// errors.Is(err, spi.FailureDuplicacy.Err()) works.
func (e *ResultError) Is(target error) bool {
	t, ok := target.(*ResultError)
	return ok && t.Code == e.Code
}
