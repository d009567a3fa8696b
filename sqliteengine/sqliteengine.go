// Copyright (c) 2024 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sqliteengine implements the bindh engine interfaces on top of
// SQLite, using github.com/mattn/go-sqlite3.
//
// SQLite has no descriptor-based binary protocol, so this package
// emulates one: parameter descriptors are decoded into SQLite values
// on Execute, and each fetched row is held in Go memory and encoded
// into the result descriptors on Fetch and FetchColumn, truncating
// variable-length values to the buffer offered.
//
// Unsigned 64-bit parameters are stored as the int64 with the same
// bits, and are read back the same way.
package sqliteengine

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/tailscale/sqlbind/bindh"
)

// DB is a connection to an SQLite database.
type DB struct {
	conn *sqlite3.SQLiteConn

	code         bindh.Code
	msg          string
	lastInsertID int64
}

// Stmt is a prepared statement on a DB.
type Stmt struct {
	db     *DB
	stmt   *sqlite3.SQLiteStmt
	query  string
	nparam int
	ncol   int

	code bindh.Code
	msg  string

	params  []bindh.Bind
	results []bindh.Bind

	executed bool
	rows     driver.Rows      // open cursor, nil once drained
	pending  [][]driver.Value // rows stepped by Execute, not yet fetched
	row      []driver.Value
	done     bool

	affected int64
	insertID int64
}

var (
	_ bindh.DB   = (*DB)(nil)
	_ bindh.Stmt = (*Stmt)(nil)
)

// Open opens a connection to the go-sqlite3 data source name.
// It is a bindh.OpenFunc.
//
// Surprisingly: an error opening the DB can return a non-nil handle.
// Call Close on it.
func Open(name string) (bindh.DB, error) {
	c, err := (&sqlite3.SQLiteDriver{}).Open(name)
	if err != nil {
		db := &DB{}
		return db, db.seterr(err)
	}
	return &DB{conn: c.(*sqlite3.SQLiteConn)}, nil
}

// MemoryName returns a data source name for a new, empty in-memory
// database. Every connection opened with the same name shares it.
func MemoryName() string {
	return "file:" + uuid.NewString() + "?mode=memory&cache=shared"
}

// codeOf converts an error from go-sqlite3 or this package into a
// code and message.
func codeOf(err error) (bindh.Code, string) {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return bindh.Code(se.Code), se.Error()
	}
	var ec bindh.ErrCode
	if errors.As(err, &ec) {
		return bindh.Code(ec), bindh.Code(ec).Message()
	}
	return bindh.CR_UNKNOWN_ERROR, err.Error()
}

func (db *DB) seterr(err error) error {
	if err == nil {
		db.code, db.msg = bindh.CR_OK, ""
		return nil
	}
	db.code, db.msg = codeOf(err)
	return bindh.CodeAsError(db.code)
}

// ErrCode is the code of the last failed call on db, or zero.
func (db *DB) ErrCode() bindh.Code { return db.code }

// ErrMsg is the message of the last failed call on db.
func (db *DB) ErrMsg() string { return db.msg }

// LastInsertID is the row ID of the last row inserted by any
// statement on db.
func (db *DB) LastInsertID() int64 { return db.lastInsertID }

// Close closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	return db.seterr(err)
}

// Prepare prepares a single statement.
// The number of result columns is read from the statement's program.
func (db *DB) Prepare(query string) (bindh.Stmt, error) {
	if db.conn == nil {
		return nil, db.seterr(bindh.ErrCode(bindh.CR_SERVER_GONE_ERROR))
	}
	ds, err := db.conn.Prepare(query)
	if err != nil {
		return nil, db.seterr(err)
	}
	s := &Stmt{
		db:     db,
		stmt:   ds.(*sqlite3.SQLiteStmt),
		query:  query,
		nparam: ds.NumInput(),
	}
	s.ncol, err = db.resultColumns(query, s.nparam)
	if err != nil {
		s.stmt.Close()
		return nil, db.seterr(err)
	}
	db.seterr(nil)
	return s, nil
}

// resultColumns reports the number of columns query returns,
// without running it.
//
// The count is the p2 operand of the ResultRow instruction in the
// statement's EXPLAIN listing. Statements with no ResultRow return
// no rows.
func (db *DB) resultColumns(query string, nparam int) (int, error) {
	q := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(q, "EXPLAIN QUERY PLAN"):
		return 4, nil // id, parent, notused, detail
	case strings.HasPrefix(q, "EXPLAIN"):
		return 8, nil // addr, opcode, p1, p2, p3, p4, p5, comment
	}

	args := make([]driver.NamedValue, nparam)
	for i := range args {
		args[i].Ordinal = i + 1
	}
	rows, err := db.conn.QueryContext(context.Background(), "EXPLAIN "+query, args)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	row := make([]driver.Value, len(rows.Columns()))
	for {
		if err := rows.Next(row); err != nil {
			if err == io.EOF {
				return 0, nil
			}
			return 0, err
		}
		if op, _ := row[1].(string); op == "ResultRow" {
			n, ok := asInt(row[3])
			if !ok {
				return 0, bindh.ErrCode(bindh.CR_NO_STMT_METADATA)
			}
			return int(n), nil
		}
	}
}

func (s *Stmt) seterr(err error) error {
	if err == nil {
		s.code, s.msg = bindh.CR_OK, ""
		return nil
	}
	s.code, s.msg = codeOf(err)
	return bindh.CodeAsError(s.code)
}

func (s *Stmt) ErrCode() bindh.Code { return s.code }
func (s *Stmt) ErrMsg() string      { return s.msg }
func (s *Stmt) ParamCount() int     { return s.nparam }
func (s *Stmt) FieldCount() int     { return s.ncol }
func (s *Stmt) AffectedRows() int64 { return s.affected }
func (s *Stmt) InsertID() int64     { return s.insertID }

// BindParam records the parameter descriptors read by Execute.
func (s *Stmt) BindParam(binds []bindh.Bind) error {
	if len(binds) != s.nparam {
		return s.seterr(bindh.ErrCode(bindh.CR_PARAMS_NOT_BOUND))
	}
	s.params = binds
	return s.seterr(nil)
}

// BindResult records the result descriptors written by Fetch.
func (s *Stmt) BindResult(binds []bindh.Bind) error {
	if len(binds) != s.ncol {
		return s.seterr(bindh.ErrCode(bindh.CR_INVALID_PARAMETER_NO))
	}
	s.results = binds
	return s.seterr(nil)
}

// Execute runs the statement with the values in the parameter
// descriptors.
func (s *Stmt) Execute() error {
	s.closeRows()
	s.executed = false
	if len(s.params) != s.nparam {
		return s.seterr(bindh.ErrCode(bindh.CR_PARAMS_NOT_BOUND))
	}
	args := make([]driver.NamedValue, s.nparam)
	for i := range s.params {
		v, err := paramValue(&s.params[i])
		if err != nil {
			return s.seterr(err)
		}
		args[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}

	ctx := context.Background()
	if s.ncol > 0 {
		rows, err := s.stmt.QueryContext(ctx, args)
		if err != nil {
			return s.seterr(err)
		}
		s.rows = rows
		if isWrite(s.query) {
			// Run the statement to completion so its changes are
			// made and counted even if no row is fetched.
			err = s.step(-1)
		} else {
			err = s.step(1)
		}
		if err != nil {
			s.closeRows()
			return s.seterr(err)
		}
		s.affected, s.insertID = 0, 0
		if isWrite(s.query) {
			s.affected, s.insertID, err = s.db.changes()
			if err != nil {
				s.closeRows()
				return s.seterr(err)
			}
			s.db.lastInsertID = s.insertID
		}
	} else {
		res, err := s.stmt.ExecContext(ctx, args)
		if err != nil {
			return s.seterr(err)
		}
		s.affected, _ = res.RowsAffected()
		s.insertID, _ = res.LastInsertId()
		s.db.lastInsertID = s.insertID
		s.done = true
	}
	s.executed = true
	return s.seterr(nil)
}

// step reads up to n rows (all rows if n < 0) from the cursor into
// s.pending. The cursor is closed once it reports the end.
func (s *Stmt) step(n int) error {
	for ; n != 0 && s.rows != nil; n-- {
		row := make([]driver.Value, len(s.rows.Columns()))
		if err := s.rows.Next(row); err != nil {
			s.rows.Close()
			s.rows = nil
			if err == io.EOF {
				return nil
			}
			return err
		}
		s.pending = append(s.pending, row)
	}
	return nil
}

func (s *Stmt) closeRows() {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	s.pending = nil
	s.row = nil
	s.done = false
}

// isWrite reports whether query is an INSERT, REPLACE, UPDATE or
// DELETE, with or without RETURNING.
func isWrite(query string) bool {
	f := strings.Fields(query)
	if len(f) == 0 {
		return false
	}
	switch strings.ToUpper(f[0]) {
	case "INSERT", "REPLACE", "UPDATE", "DELETE":
		return true
	}
	return false
}

// changes reports the rows changed and the last inserted row ID of
// the most recently completed statement on db.
func (db *DB) changes() (affected, insertID int64, err error) {
	rows, err := db.conn.QueryContext(context.Background(), "SELECT changes(), last_insert_rowid()", nil)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	row := make([]driver.Value, 2)
	if err := rows.Next(row); err != nil {
		return 0, 0, err
	}
	affected, _ = asInt(row[0])
	insertID, _ = asInt(row[1])
	return affected, insertID, nil
}

// paramValue decodes a parameter descriptor into a go-sqlite3 value.
func paramValue(b *bindh.Bind) (driver.Value, error) {
	if b.IsNull || b.Type == bindh.MYSQL_TYPE_NULL {
		return nil, nil
	}
	if n := b.Type.Size(); n > 0 && len(b.Buffer) < n {
		return nil, bindh.ErrCode(bindh.CR_INVALID_BUFFER_USE)
	}
	o := bindh.NativeEndian
	switch b.Type {
	case bindh.MYSQL_TYPE_TINY:
		if b.Unsigned {
			return int64(b.Buffer[0]), nil
		}
		return int64(int8(b.Buffer[0])), nil
	case bindh.MYSQL_TYPE_SHORT, bindh.MYSQL_TYPE_YEAR:
		if b.Unsigned {
			return int64(o.Uint16(b.Buffer)), nil
		}
		return int64(int16(o.Uint16(b.Buffer))), nil
	case bindh.MYSQL_TYPE_LONG, bindh.MYSQL_TYPE_INT24:
		if b.Unsigned {
			return int64(o.Uint32(b.Buffer)), nil
		}
		return int64(int32(o.Uint32(b.Buffer))), nil
	case bindh.MYSQL_TYPE_LONGLONG:
		return int64(o.Uint64(b.Buffer)), nil
	case bindh.MYSQL_TYPE_FLOAT:
		return float64(math.Float32frombits(o.Uint32(b.Buffer))), nil
	case bindh.MYSQL_TYPE_DOUBLE:
		return math.Float64frombits(o.Uint64(b.Buffer)), nil
	case bindh.MYSQL_TYPE_DATETIME, bindh.MYSQL_TYPE_TIMESTAMP, bindh.MYSQL_TYPE_DATE:
		return bindh.Datetime(b.Buffer), nil
	case bindh.MYSQL_TYPE_STRING, bindh.MYSQL_TYPE_VAR_STRING, bindh.MYSQL_TYPE_VARCHAR,
		bindh.MYSQL_TYPE_JSON, bindh.MYSQL_TYPE_DECIMAL, bindh.MYSQL_TYPE_NEWDECIMAL:
		return string(b.Buffer[:min(b.Length, uint64(len(b.Buffer)))]), nil
	case bindh.MYSQL_TYPE_BLOB, bindh.MYSQL_TYPE_TINY_BLOB,
		bindh.MYSQL_TYPE_MEDIUM_BLOB, bindh.MYSQL_TYPE_LONG_BLOB:
		v := bytes.Clone(b.Buffer[:min(b.Length, uint64(len(b.Buffer)))])
		if v == nil {
			v = []byte{} // nil binds NULL
		}
		return v, nil
	}
	return nil, bindh.ErrCode(bindh.CR_UNSUPPORTED_PARAM_TYPE)
}

// Fetch advances to the next row and writes it into the result
// descriptors.
func (s *Stmt) Fetch() (bindh.FetchStatus, error) {
	if !s.executed {
		return 0, s.seterr(bindh.ErrCode(bindh.CR_COMMANDS_OUT_OF_SYNC))
	}
	if s.done {
		s.seterr(nil)
		return bindh.FetchNoData, nil
	}
	if len(s.pending) == 0 {
		if err := s.step(1); err != nil {
			s.done = true
			return 0, s.seterr(err)
		}
	}
	if len(s.pending) == 0 {
		s.done = true
		s.seterr(nil)
		return bindh.FetchNoData, nil
	}
	s.row = s.pending[0]
	s.pending = s.pending[1:]
	truncated := false
	for i := range s.results {
		b := &s.results[i]
		if b.Type == bindh.MYSQL_TYPE_NULL || i >= len(s.row) {
			continue
		}
		if err := store(b, s.row[i], 0); err != nil {
			return 0, s.seterr(err)
		}
		truncated = truncated || b.Truncated
	}
	s.seterr(nil)
	if truncated {
		return bindh.FetchTruncated, nil
	}
	return bindh.FetchOK, nil
}

// FetchColumn writes column col of the current row into bind,
// starting at byte offset of the value.
func (s *Stmt) FetchColumn(bind *bindh.Bind, col int, offset uint64) error {
	if s.row == nil || s.done {
		return s.seterr(bindh.ErrCode(bindh.CR_NO_DATA))
	}
	if col < 0 || col >= len(s.row) {
		return s.seterr(bindh.ErrCode(bindh.CR_INVALID_PARAMETER_NO))
	}
	return s.seterr(store(bind, s.row[col], offset))
}

// Close finalizes the statement.
func (s *Stmt) Close() error {
	s.closeRows()
	s.executed = false
	s.params, s.results = nil, nil
	return s.seterr(s.stmt.Close())
}

// store encodes v into b as b's type.
// Variable-length values are copied from offset and truncated to
// len(b.Buffer); b.Length is always the full length of v.
func store(b *bindh.Bind, v driver.Value, offset uint64) error {
	b.Truncated = false
	if v == nil {
		b.IsNull = true
		b.Length = 0
		return nil
	}
	b.IsNull = false

	if n := b.Type.Size(); n > 0 {
		if len(b.Buffer) < n {
			return bindh.ErrCode(bindh.CR_INVALID_BUFFER_USE)
		}
		b.Length = uint64(n)
		return storeFixed(b, v)
	}

	var data []byte
	switch v := v.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case int64:
		data = strconv.AppendInt(nil, v, 10)
	case float64:
		data = strconv.AppendFloat(nil, v, 'g', -1, 64)
	case bool:
		data = []byte("0")
		if v {
			data = []byte("1")
		}
	case time.Time:
		data = []byte(v.Format(sqlite3.SQLiteTimestampFormats[0]))
	default:
		return bindh.ErrCode(bindh.CR_UNSUPPORTED_PARAM_TYPE)
	}
	b.Length = uint64(len(data))
	if offset > uint64(len(data)) {
		offset = uint64(len(data))
	}
	rest := data[offset:]
	n := copy(b.Buffer, rest)
	b.Truncated = n < len(rest)
	return nil
}

func storeFixed(b *bindh.Bind, v driver.Value) error {
	o := bindh.NativeEndian
	switch b.Type {
	case bindh.MYSQL_TYPE_FLOAT, bindh.MYSQL_TYPE_DOUBLE:
		f, ok := asFloat(v)
		if !ok {
			return bindh.ErrCode(bindh.CR_UNSUPPORTED_PARAM_TYPE)
		}
		if b.Type == bindh.MYSQL_TYPE_FLOAT {
			o.PutUint32(b.Buffer, math.Float32bits(float32(f)))
		} else {
			o.PutUint64(b.Buffer, math.Float64bits(f))
		}
		return nil
	case bindh.MYSQL_TYPE_DATETIME, bindh.MYSQL_TYPE_TIMESTAMP, bindh.MYSQL_TYPE_DATE:
		t, ok := asTime(v)
		if !ok {
			return bindh.ErrCode(bindh.CR_UNSUPPORTED_PARAM_TYPE)
		}
		bindh.PutDatetime(b.Buffer, t)
		return nil
	}

	n, ok := asInt(v)
	if !ok {
		return bindh.ErrCode(bindh.CR_UNSUPPORTED_PARAM_TYPE)
	}
	switch b.Type.Size() {
	case 1:
		b.Buffer[0] = byte(n)
	case 2:
		o.PutUint16(b.Buffer, uint16(n))
	case 4:
		o.PutUint32(b.Buffer, uint32(n))
	case 8:
		o.PutUint64(b.Buffer, uint64(n))
	}
	return nil
}

func asInt(v driver.Value) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case time.Time:
		return v.Unix(), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func asFloat(v driver.Value) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		return f, err == nil
	}
	return 0, false
}

func asTime(v driver.Value) (time.Time, bool) {
	switch v := v.(type) {
	case time.Time:
		return v, true
	case int64:
		return time.Unix(v, 0).UTC(), true
	case []byte:
		return asTime(string(v))
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(v), "Z")
		for _, f := range sqlite3.SQLiteTimestampFormats {
			if t, err := time.ParseInLocation(f, s, time.UTC); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
