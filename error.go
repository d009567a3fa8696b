// Copyright (c) 2024 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlbind

import (
	"errors"
	"expvar"

	"github.com/tailscale/sqlbind/bindh"
)

var (
	// ErrClosed is returned by operations on a closed Conn or Stmt.
	ErrClosed = errors.New("sqlbind: closed")

	// ErrOutOfRange is returned when a parameter or result index is
	// not less than the statement's count.
	ErrOutOfRange = errors.New("sqlbind: index out of range")

	// ErrUnsupportedType is returned when a variable of a type with
	// no binder is bound.
	ErrUnsupportedType = errors.New("sqlbind: unsupported type")

	// ErrUnbound is returned by Execute when a parameter slot has
	// not been bound.
	ErrUnbound = errors.New("sqlbind: parameter not bound")

	// ErrNotExecuted is returned by Fetch before a successful Execute.
	ErrNotExecuted = errors.New("sqlbind: statement not executed")
)

// UsesAfterClose is a metric that is updated whenever an operation is
// attempted on a closed Stmt or Conn.
var UsesAfterClose expvar.Map

// Error is an error reported by the engine, tagged with the
// operation that failed.
type Error struct {
	// Code is the engine error code.
	// Its meaning depends on the engine below CR_MIN_ERROR.
	Code bindh.Code
	// Loc is the method that produced the error, e.g. "Execute".
	Loc string
	// Query is the statement text, if any.
	Query string
	// Msg is the engine's message for the error.
	Msg string
}

func (err Error) Error() string {
	str := "sqlbind"
	if err.Loc != "" {
		str += "." + err.Loc
	}
	str += ": " + err.Code.String()
	if err.Msg != "" {
		str += ": " + err.Msg
	}
	if err.Query != "" {
		str += " (" + err.Query + ")"
	}
	return str
}

// Unwrap returns the engine code as a bindh.ErrCode, so
// errors.Is(err, bindh.ErrCode(code)) matches.
func (err Error) Unwrap() error {
	return bindh.CodeAsError(err.Code)
}

// reserr builds an Error from a failed engine call, using the code
// and message recorded on src.
func reserr(src bindh.ErrReporter, loc, query string, err error) error {
	if err == nil {
		return nil
	}
	code := src.ErrCode()
	var ec bindh.ErrCode
	if code == bindh.CR_OK {
		if errors.As(err, &ec) {
			code = bindh.Code(ec)
		} else {
			code = bindh.CR_UNKNOWN_ERROR
		}
	}
	msg := src.ErrMsg()
	if msg == "" || msg == code.String() {
		msg = err.Error()
		if msg == code.String() {
			msg = code.Message()
		}
	}
	return &Error{
		Code:  code,
		Loc:   loc,
		Query: query,
		Msg:   msg,
	}
}
