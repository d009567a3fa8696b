// Copyright (c) 2024 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlbind

import (
	"runtime"
	"sync/atomic"

	"github.com/tailscale/sqlbind/bindh"
)

// fakeDB is a scripted engine. Every statement it prepares has nparam
// parameters and returns rows, a copy of which is served after each
// Execute.
//
// It records whether two engine calls ever overlapped.
type fakeDB struct {
	nparam int
	ncol   int
	rows   [][]any // int64, string or nil

	failPrepare     bindh.Code
	failExecute     bindh.Code
	failFetchColumn bool
	failClose       bindh.Code

	code   bindh.Code
	msg    string
	closed bool

	active  atomic.Int32
	overlap atomic.Bool
	calls   atomic.Int64
}

func (db *fakeDB) enter() func() {
	db.calls.Add(1)
	if db.active.Add(1) > 1 {
		db.overlap.Store(true)
	}
	for range 3 {
		runtime.Gosched()
	}
	return func() { db.active.Add(-1) }
}

func (db *fakeDB) ErrCode() bindh.Code { return db.code }
func (db *fakeDB) ErrMsg() string      { return db.msg }
func (db *fakeDB) LastInsertID() int64 { return 0 }

func (db *fakeDB) Close() error {
	defer db.enter()()
	db.closed = true
	return nil
}

func (db *fakeDB) Prepare(query string) (bindh.Stmt, error) {
	defer db.enter()()
	if db.failPrepare != 0 {
		db.code, db.msg = db.failPrepare, "fake prepare failure"
		return nil, bindh.ErrCode(db.failPrepare)
	}
	db.code, db.msg = 0, ""
	return &fakeStmt{db: db}, nil
}

type fakeStmt struct {
	db   *fakeDB
	code bindh.Code

	params, results []bindh.Bind
	executed        bool
	next            int

	lastParam    int64
	fetchColumns int
	closed       bool
}

func (s *fakeStmt) seterr(code bindh.Code) error {
	s.code = code
	return bindh.CodeAsError(code)
}

func (s *fakeStmt) ErrCode() bindh.Code { return s.code }
func (s *fakeStmt) ErrMsg() string      { return s.code.Message() }
func (s *fakeStmt) ParamCount() int     { return s.db.nparam }
func (s *fakeStmt) FieldCount() int     { return s.db.ncol }
func (s *fakeStmt) AffectedRows() int64 { return int64(len(s.db.rows)) }
func (s *fakeStmt) InsertID() int64     { return 0 }

func (s *fakeStmt) BindParam(binds []bindh.Bind) error {
	defer s.db.enter()()
	s.params = binds
	return s.seterr(0)
}

func (s *fakeStmt) BindResult(binds []bindh.Bind) error {
	defer s.db.enter()()
	s.results = binds
	return s.seterr(0)
}

func (s *fakeStmt) Execute() error {
	defer s.db.enter()()
	s.executed = false
	if s.db.failExecute != 0 {
		return s.seterr(s.db.failExecute)
	}
	for _, b := range s.params {
		if b.Type == bindh.MYSQL_TYPE_LONGLONG && !b.IsNull {
			s.lastParam = int64(bindh.NativeEndian.Uint64(b.Buffer))
		}
	}
	s.executed = true
	s.next = 0
	return s.seterr(0)
}

func (s *fakeStmt) Fetch() (bindh.FetchStatus, error) {
	defer s.db.enter()()
	if !s.executed {
		return 0, s.seterr(bindh.CR_COMMANDS_OUT_OF_SYNC)
	}
	if s.next >= len(s.db.rows) {
		return bindh.FetchNoData, s.seterr(0)
	}
	row := s.db.rows[s.next]
	s.next++
	status := bindh.FetchOK
	for i := range s.results {
		b := &s.results[i]
		if b.Type == bindh.MYSQL_TYPE_NULL {
			continue
		}
		fakeStore(b, row[i], 0)
		if b.Truncated {
			status = bindh.FetchTruncated
		}
	}
	return status, s.seterr(0)
}

func (s *fakeStmt) FetchColumn(bind *bindh.Bind, col int, offset uint64) error {
	defer s.db.enter()()
	s.fetchColumns++
	if s.db.failFetchColumn {
		return s.seterr(bindh.CR_NO_DATA)
	}
	fakeStore(bind, s.db.rows[s.next-1][col], offset)
	return s.seterr(0)
}

func (s *fakeStmt) Close() error {
	defer s.db.enter()()
	s.closed = true
	return s.seterr(s.db.failClose)
}

func fakeStore(b *bindh.Bind, v any, offset uint64) {
	b.IsNull, b.Truncated = false, false
	switch v := v.(type) {
	case nil:
		b.IsNull, b.Length = true, 0
	case int64:
		b.Length = 8
		bindh.NativeEndian.PutUint64(b.Buffer, uint64(v))
	case string:
		b.Length = uint64(len(v))
		rest := v[offset:]
		n := copy(b.Buffer, rest)
		b.Truncated = n < len(rest)
	}
}
