// Copyright (c) 2024 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlbind

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tailscale/sqlbind/bindh"
)

// State is the lifecycle state of a Stmt.
type State int

const (
	StatePrepared    = State(0) // prepared, parameters not yet bound
	StateParamsBound = State(1) // parameters bound, not executed
	StateExecuted    = State(2) // executed, rows may be fetched
	StateClosed      = State(3)
)

func (st State) String() string {
	switch st {
	case StatePrepared:
		return "prepared"
	case StateParamsBound:
		return "params-bound"
	case StateExecuted:
		return "executed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(st))
}

// Stmt is a prepared statement.
//
// A Stmt is created by Conn.Prepare and must be released with Close.
// It is not safe for concurrent use, but distinct statements on one
// Conn may be used from distinct goroutines.
type Stmt struct {
	conn    *Conn
	stmt    bindh.Stmt
	query   string
	prepCtx context.Context // the context provided to Prepare, for tracing
	closed  atomic.Bool

	params  *bindSet
	results *bindSet

	// Guarded by conn.mu.
	state    State
	released bool // engine handle closed
	errCode  bindh.Code
	errMsg   string
	affected int64
	insertID int64
}

func (s *Stmt) reserr(loc string, err error) error { return reserr(s.stmt, loc, s.query, err) }

// record saves the engine's error state. It must be called with
// conn.mu held after every engine sequence.
func (s *Stmt) record() {
	s.errCode = s.stmt.ErrCode()
	s.errMsg = s.stmt.ErrMsg()
}

// Query reports the text s was prepared from.
func (s *Stmt) Query() string { return s.query }

// NumParams reports the number of parameter placeholders.
func (s *Stmt) NumParams() int { return s.params.len() }

// NumFields reports the number of result columns.
// It is zero for statements that return no rows.
func (s *Stmt) NumFields() int { return s.results.len() }

func (s *Stmt) State() State {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.state
}

// BindParam binds args, in order, to the leading parameters.
//
// A pointer argument is read on every Execute. Any other argument is
// copied now. If any argument cannot be bound, no parameter changes.
func (s *Stmt) BindParam(args ...any) error {
	if s.closed.Load() {
		UsesAfterClose.Add("Stmt.BindParam", 1)
		return ErrClosed
	}
	vs := make([]any, len(args))
	for i, arg := range args {
		vs[i] = boxParam(arg)
	}
	if err := s.params.setVariables(vs); err != nil {
		return err
	}
	s.paramsBound()
	return nil
}

// BindParamAt binds arg to parameter i.
func (s *Stmt) BindParamAt(i int, arg any) error {
	if s.closed.Load() {
		UsesAfterClose.Add("Stmt.BindParamAt", 1)
		return ErrClosed
	}
	if err := s.params.setVariable(i, boxParam(arg)); err != nil {
		return err
	}
	s.paramsBound()
	return nil
}

func (s *Stmt) paramsBound() {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.state == StatePrepared {
		s.state = StateParamsBound
	}
}

// BindResult binds dsts, in order, to the leading result columns.
// Each must be a pointer. Unbound columns are skipped by Fetch.
// If any destination cannot be bound, no column changes.
func (s *Stmt) BindResult(dsts ...any) error {
	if s.closed.Load() {
		UsesAfterClose.Add("Stmt.BindResult", 1)
		return ErrClosed
	}
	return s.results.setVariables(dsts)
}

// BindResultAt binds dst to result column i.
func (s *Stmt) BindResultAt(i int, dst any) error {
	if s.closed.Load() {
		UsesAfterClose.Add("Stmt.BindResultAt", 1)
		return ErrClosed
	}
	return s.results.setVariable(i, dst)
}

// Execute runs the statement with the current values of its bound
// parameters, discarding any rows not yet fetched from a previous
// execution.
//
// Engine failures are returned as an *Error. The statement remains
// usable after one.
func (s *Stmt) Execute() error {
	if s.closed.Load() {
		UsesAfterClose.Add("Stmt.Execute", 1)
		return ErrClosed
	}

	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	if err := s.params.preExecute(); err != nil {
		return err
	}
	start := time.Now()
	err := s.stmt.BindParam(s.params.binds())
	if err != nil {
		err = s.reserr("Stmt.Execute(Bind)", err)
	} else if err = s.stmt.Execute(); err != nil {
		err = s.reserr("Stmt.Execute", err)
	}
	duration := time.Since(start)
	s.record()
	if s.conn.tracer != nil {
		s.conn.tracer.Query(s.prepCtx, s.conn.id, s.query, duration, err)
	}
	if err != nil {
		s.state = StateParamsBound
		return err
	}
	s.params.postExecute()
	s.affected = s.stmt.AffectedRows()
	s.insertID = s.stmt.InsertID()
	s.state = StateExecuted
	return nil
}

// Fetch fetches the next row into the bound result variables.
//
// It reports false with a nil error once the rows are exhausted, and
// keeps doing so until the next Execute. Engine failures are returned
// as an *Error.
func (s *Stmt) Fetch() (bool, error) {
	if s.closed.Load() {
		UsesAfterClose.Add("Stmt.Fetch", 1)
		return false, ErrClosed
	}

	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	if s.state != StateExecuted {
		return false, ErrNotExecuted
	}
	refetched, ok, err := s.fetch()
	s.record()
	if s.conn.tracer != nil && (ok || err != nil) {
		s.conn.tracer.Fetch(s.prepCtx, s.conn.id, s.query, refetched, err)
	}
	return ok, err
}

func (s *Stmt) fetch() (refetched int, ok bool, err error) {
	s.results.preFetch()
	binds := s.results.binds()
	if err := s.stmt.BindResult(binds); err != nil {
		return 0, false, s.reserr("Stmt.Fetch(Bind)", err)
	}
	status, err := s.stmt.Fetch()
	if err != nil {
		return 0, false, s.reserr("Stmt.Fetch", err)
	}
	switch status {
	case bindh.FetchNoData:
		return 0, false, nil
	case bindh.FetchOK, bindh.FetchTruncated:
	default:
		return 0, false, &Error{
			Code:  bindh.CR_UNKNOWN_ERROR,
			Loc:   "Stmt.Fetch",
			Query: s.query,
			Msg:   "unexpected fetch status " + status.String(),
		}
	}

	refetch := s.results.postFetch()
	for _, i := range refetch {
		if err := s.stmt.FetchColumn(&binds[i], i, 0); err != nil {
			return len(refetch), false, s.reserr("Stmt.Fetch(Column)", err)
		}
	}
	s.results.postRefetch(refetch)
	return len(refetch), true, nil
}

// AffectedRows reports the number of rows changed by the last
// successful Execute.
func (s *Stmt) AffectedRows() int64 {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.affected
}

// LastInsertID reports the row ID generated by the last successful
// Execute, if it inserted a row.
func (s *Stmt) LastInsertID() int64 {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.insertID
}

// ErrorCode reports the code of the last engine error on s.
// It is zero if the last engine call succeeded.
func (s *Stmt) ErrorCode() bindh.Code {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.errCode
}

// ErrorMessage reports the message of the last engine error on s.
func (s *Stmt) ErrorMessage() string {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.errMsg
}

// Close releases the engine statement.
// Closing a closed Stmt does nothing.
func (s *Stmt) Close() error {
	if s.conn.closed.Load() {
		// Conn.Close has finalized it.
		UsesAfterClose.Add("Stmt.Close_conn", 1)
		return nil
	}
	if !s.closed.CompareAndSwap(false, true) {
		UsesAfterClose.Add("Stmt.Close", 1)
		return nil
	}
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.release()
}

// release closes the engine handle. conn.mu must be held.
func (s *Stmt) release() error {
	if s.released {
		return nil
	}
	s.released = true
	s.state = StateClosed
	delete(s.conn.stmts, s)
	err := s.reserr("Stmt.Close", s.stmt.Close())
	s.record()
	return err
}
