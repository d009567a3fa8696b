// Copyright (c) 2024 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sqlbind binds typed Go variables to the parameters and result
// columns of prepared statements, using a binary prepared-statement
// protocol modeled on the MySQL C client.
//
// Each parameter or result column is described to the engine by a
// bindh.Bind. A statement keeps one fixed array of them per side and
// fills it from the caller's variables before every call into the engine:
//
//	var id int64
//	var name sql.Null[string]
//	s, err := c.Prepare(ctx, "SELECT id, name FROM t WHERE id = ?")
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	if err := s.BindParam(42); err != nil {
//		return err
//	}
//	if err := s.BindResult(&id, &name); err != nil {
//		return err
//	}
//	if err := s.Execute(); err != nil {
//		return err
//	}
//	for {
//		ok, err := s.Fetch()
//		if err != nil {
//			return err
//		}
//		if !ok {
//			break
//		}
//		// use id, name
//	}
//
// # Binding Types
//
// Result variables, and parameter variables passed by pointer, are
// aliased: parameters are read again on every Execute and results are
// written on every Fetch. Parameters passed by value are copied when
// bound.
//
// Supported variables are pointers to the fixed-width types int8
// through int64, uint8 through uint64, int, uint, float32, float64,
// bool and time.Time; to string and []byte; to sql.Null[T] of any of
// those; and to the legacy sql.NullInt64, sql.NullInt32,
// sql.NullInt16, sql.NullByte, sql.NullFloat64, sql.NullBool,
// sql.NullTime and sql.NullString.
//
// A NULL fetched into a variable that cannot represent it sets the
// variable to its zero value.
//
// # Variable-length results
//
// Strings and byte slices are fetched in two phases. The first fetch
// offers the engine a one byte buffer; if the value is longer, the
// buffer is grown to the exact length the engine reported and only
// that column is fetched again.
//
// # Concurrency
//
// A Conn may be shared by many goroutines. Every call that reaches the
// engine holds the Conn's lock for its whole sequence of engine calls,
// so statements on one Conn take turns. A single Stmt, and the
// variables bound to it, must be used by one goroutine at a time.
package sqlbind

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tailscale/sqlbind/bindh"
	"tailscale.com/types/logger"
)

// Open opens engine connections for Connect.
// Building with cgo sets it to sqliteengine.Open.
var Open bindh.OpenFunc = func(string) (bindh.DB, error) {
	return nil, fmt.Errorf("sqliteengine.Open is missing")
}

// ConnInitFunc is called by Connect on a new connection.
// Any error return closes the conn and is returned by Connect.
type ConnInitFunc func(ctx context.Context, c *Conn) error

// Options configures a Conn. The zero value is ready to use.
type Options struct {
	// Tracer, if non-nil, is told about every statement executed
	// and every row fetched.
	Tracer bindh.Tracer
	// Logf is used for diagnostics. Nil means logger.Discard.
	Logf logger.Logf
	// InitFunc, if non-nil, is called by Connect on the new Conn.
	InitFunc ConnInitFunc
}

var maxConnID atomic.Int32

// Conn is a connection to an engine.
//
// It owns the engine handle and the lock that serializes every
// engine call made on it, including calls made by its statements.
type Conn struct {
	mu     sync.Mutex
	db     bindh.DB
	id     bindh.TraceConnID
	tracer bindh.Tracer
	logf   logger.Logf
	closed atomic.Bool

	// stmts holds the open statements, finalized by Close.
	// It is guarded by mu.
	stmts map[*Stmt]struct{}
}

// Connect opens name with Open and wraps it in a Conn.
func Connect(ctx context.Context, name string, opts *Options) (*Conn, error) {
	db, err := Open(name)
	if err != nil {
		if ec, ok := err.(bindh.ErrCode); ok {
			e := &Error{
				Code: bindh.Code(ec),
				Loc:  "Open",
			}
			if db != nil {
				e.Msg = db.ErrMsg()
			}
			err = e
		}
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	c := NewConn(db, opts)
	c.logf("sqlbind: conn %d: opened %q", c.id, name)
	if opts != nil && opts.InitFunc != nil {
		if err := opts.InitFunc(ctx, c); err != nil {
			c.Close()
			return nil, fmt.Errorf("sqlbind.ConnInitFunc: %w", err)
		}
	}
	return c, nil
}

// NewConn returns a Conn that owns db.
// opts may be nil. NewConn does not call opts.InitFunc.
func NewConn(db bindh.DB, opts *Options) *Conn {
	c := &Conn{
		db:    db,
		id:    bindh.TraceConnID(maxConnID.Add(1)),
		logf:  logger.Discard,
		stmts: make(map[*Stmt]struct{}),
	}
	if opts != nil {
		c.tracer = opts.Tracer
		if opts.Logf != nil {
			c.logf = opts.Logf
		}
	}
	return c
}

// Close finalizes every statement still open on c and closes the
// engine handle.
func (c *Conn) Close() error {
	// Don't double-close
	if !c.closed.CompareAndSwap(false, true) {
		UsesAfterClose.Add("Conn.Close", 1)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.stmts {
		c.logf("sqlbind: conn %d: finalizing unclosed statement %q", c.id, s.query)
		s.closed.Store(true)
		if err := s.release(); err != nil {
			c.logf("sqlbind: conn %d: %v", c.id, err)
		}
	}
	err := reserr(c.db, "Conn.Close", "", c.db.Close())
	c.logf("sqlbind: conn %d: closed", c.id)
	return err
}

// ErrorCode reports the code of the last error recorded on the
// connection handle. It is zero if the last call succeeded.
func (c *Conn) ErrorCode() bindh.Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.ErrCode()
}

// ErrorMessage reports the message of the last error recorded on the
// connection handle.
func (c *Conn) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.ErrMsg()
}

// LastInsertID reports the row ID of the most recent successful
// insert on the connection.
func (c *Conn) LastInsertID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.LastInsertID()
}

// Prepare prepares query on c.
//
// ctx is passed to the Tracer with every execution of the statement.
// A query the engine rejects returns an *Error.
func (c *Conn) Prepare(ctx context.Context, query string) (s *Stmt, err error) {
	if c.closed.Load() {
		UsesAfterClose.Add("Prepare", 1)
		return nil, ErrClosed
	}
	if c.tracer != nil {
		start := time.Now()
		defer func() {
			if err != nil {
				c.tracer.Query(ctx, c.id, query, time.Since(start), err)
			}
		}()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	es, err := c.db.Prepare(query)
	if err != nil {
		err = reserr(c.db, "Prepare", query, err)
		c.logf("sqlbind: conn %d: %v", c.id, err)
		return nil, err
	}
	s = &Stmt{
		conn:    c,
		stmt:    es,
		query:   query,
		prepCtx: ctx,
		params:  newBindSet(es.ParamCount()),
		results: newBindSet(es.FieldCount()),
	}
	c.stmts[s] = struct{}{}
	return s, nil
}

// Prepare prepares query on c. It is shorthand for c.Prepare.
func Prepare(ctx context.Context, c *Conn, query string) (*Stmt, error) {
	return c.Prepare(ctx, query)
}

// Exec prepares query, binds args to its parameters, executes it once
// and closes it.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) error {
	s, err := c.Prepare(ctx, query)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.BindParam(args...); err != nil {
		return err
	}
	return s.Execute()
}
