// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import "fmt"

// ErrorCode is a stable, build-artifact-safe identifier for a compile-time
// failure (§4.4, §7). The public build entry point surfaces only the code;
// no source text, identifier, or path is ever embedded in a released
// artifact.
type ErrorCode int

const (
	// ErrUndeclaredIdentifier: a name was referenced that no enclosing scope
	// declared.
	ErrUndeclaredIdentifier ErrorCode = iota + 1
	// ErrTypeMismatch: an operand's resolved type did not match what the
	// operator or context required.
	ErrTypeMismatch
	// ErrUnsupportedConstruct: a tree shape the lowering rules have no case
	// for (e.g. a pattern kind absent from the closed set in §3).
	ErrUnsupportedConstruct
	// ErrMacroCall: the source invoked a macro; macro invocations are
	// rejected outright at compile time.
	ErrMacroCall
	// ErrUnresolvedHostCall: a HostCallExpr names a function absent from the
	// build's wrapper-thunk table.
	ErrUnresolvedHostCall
	// ErrInternal marks a compiler-invariant violation (a bug in the
	// compiler itself, not a defect in the input tree).
	ErrInternal
)

// Match exhaustiveness is not a build-time code: a non-catch-all match
// compiles to a trailing TRAP_UNREACHABLE (see compiler/match.go), and
// reaching it at run time raises vm.NonExhaustiveMatch instead. §6's
// closed build-time enumeration is E01-E05; there is no E06.

func (c ErrorCode) String() string {
	switch c {
	case ErrUndeclaredIdentifier:
		return "E01"
	case ErrTypeMismatch:
		return "E02"
	case ErrUnsupportedConstruct:
		return "E03"
	case ErrMacroCall:
		return "E04"
	case ErrUnresolvedHostCall:
		return "E05"
	case ErrInternal:
		return "E99"
	default:
		return "E00"
	}
}

// CompileError is the only error type the public build entry point returns.
// Its Error() string carries the numeric code alone; detail is kept
// unexported so a caller that logs the code (e.g. via xlog) cannot
// accidentally forward source context into a released artifact or a report
// that ships alongside one.
type CompileError struct {
	Code   ErrorCode
	detail string
}

func (e *CompileError) Error() string { return fmt.Sprintf("compiler: %s", e.Code) }

// Detail returns the unexported diagnostic string, for build-time logging
// only (never for inclusion in an artifact or in anything derived from one).
func (e *CompileError) Detail() string { return e.detail }

func newError(code ErrorCode, detail string) *CompileError {
	return &CompileError{Code: code, detail: detail}
}
