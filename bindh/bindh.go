// Copyright (c) 2024 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bindh contains prepared-statement engine constants and
// interfaces for Gophers.
//
// The names mirror the MySQL C client (MYSQL_BIND, MYSQL_TYPE_*, CR_*),
// whose binary prepared-statement protocol this package models.
package bindh

// Given everything in here has a bindh. prefix,
// why not strip the MYSQL_ prefix from constants?
// Because this way standard names show up in search.

import (
	"context"
	"encoding/binary"
	"time"

	"golang.org/x/sys/cpu"
)

// OpenFunc opens a connection to an engine.
//
// An error opening the connection may return a non-nil DB.
// Call Close on it.
type OpenFunc func(name string) (DB, error)

// ErrReporter reports the most recent error recorded on a handle.
type ErrReporter interface {
	// ErrCode is mysql_errno / mysql_stmt_errno.
	// It is zero if the last call succeeded.
	ErrCode() Code
	// ErrMsg is mysql_error / mysql_stmt_error.
	ErrMsg() string
}

// DB is a MYSQL* connection handle.
//
// A DB is not safe for concurrent use. Callers serialize every call,
// including calls made through any Stmt prepared on it.
type DB interface {
	ErrReporter
	// Close is mysql_close.
	Close() error
	// Prepare is mysql_stmt_init + mysql_stmt_prepare.
	Prepare(query string) (Stmt, error)
	// LastInsertID is mysql_insert_id.
	LastInsertID() int64
}

// Stmt is a MYSQL_STMT* prepared statement handle.
type Stmt interface {
	ErrReporter
	// ParamCount is mysql_stmt_param_count.
	ParamCount() int
	// FieldCount is mysql_num_fields of mysql_stmt_result_metadata.
	// It is zero for statements that produce no result set.
	FieldCount() int
	// BindParam is mysql_stmt_bind_param.
	//
	// The engine reads the descriptors' buffers during Execute.
	// They must not be modified until Execute returns.
	BindParam(binds []Bind) error
	// Execute is mysql_stmt_execute.
	// Any open cursor from a previous Execute is discarded.
	Execute() error
	// BindResult is mysql_stmt_bind_result.
	//
	// The engine writes into the descriptors' buffers during Fetch
	// and FetchColumn.
	BindResult(binds []Bind) error
	// Fetch is mysql_stmt_fetch.
	// 	For a row, Fetch returns (FetchOK, nil).
	// 	For a row with at least one truncated column, (FetchTruncated, nil).
	// 	Once the cursor is exhausted, (FetchNoData, nil), on every call.
	// 	For any error, (0, err).
	Fetch() (FetchStatus, error)
	// FetchColumn is mysql_stmt_fetch_column.
	// It copies column col of the current row, starting at offset,
	// into bind.
	FetchColumn(bind *Bind, col int, offset uint64) error
	// AffectedRows is mysql_stmt_affected_rows.
	AffectedRows() int64
	// InsertID is mysql_stmt_insert_id.
	InsertID() int64
	// Close is mysql_stmt_close.
	Close() error
}

// Bind is a MYSQL_BIND: one parameter or result column as the engine
// sees it.
//
// Binds are always handed to the engine as a contiguous slice indexed
// by parameter or column position. While a slice is held by the
// engine (inside Execute, Fetch or FetchColumn) the Buffer field of
// its elements must not be reassigned.
type Bind struct {
	// Type is buffer_type.
	Type FieldType
	// Unsigned is is_unsigned.
	Unsigned bool
	// Buffer is buffer and buffer_length.
	//
	// Fixed-width types are laid out in NativeEndian order.
	Buffer []byte
	// Length is length_value.
	// For parameters it is the number of bytes of Buffer to send.
	// After a fetch it is the full length of the column value,
	// which may exceed len(Buffer).
	Length uint64
	// IsNull is is_null_value.
	IsNull bool
	// Truncated is error_value, set by the engine when a fetched
	// value did not fit in Buffer.
	Truncated bool
}

// NativeEndian is the byte order of fixed-width values in a Bind buffer.
var NativeEndian binary.ByteOrder = binary.LittleEndian

func init() {
	if cpu.IsBigEndian {
		NativeEndian = binary.BigEndian
	}
}

// FetchStatus is the result of mysql_stmt_fetch.
type FetchStatus int

const (
	FetchOK        FetchStatus = 0
	FetchNoData    FetchStatus = 100 // MYSQL_NO_DATA
	FetchTruncated FetchStatus = 101 // MYSQL_DATA_TRUNCATED
)

func (s FetchStatus) String() string {
	switch s {
	case FetchOK:
		return "OK"
	case FetchNoData:
		return "MYSQL_NO_DATA"
	case FetchTruncated:
		return "MYSQL_DATA_TRUNCATED"
	default:
		var buf [20]byte
		return "FETCH_UNKNOWN(" + string(itoa(buf[:], int64(s))) + ")"
	}
}

// TraceConnID identifies a connection to a Tracer.
type TraceConnID int

// Tracer is called by the sqlbind package on every statement it runs.
// Implementations must be safe for concurrent use.
type Tracer interface {
	// Query is called after a statement is executed, or after it
	// fails to prepare.
	Query(prepCtx context.Context, id TraceConnID, query string, duration time.Duration, err error)
	// Fetch is called after a fetch that returned a row or failed.
	// refetched is the number of columns that had to be fetched a
	// second time because they did not fit the provisional buffer.
	Fetch(prepCtx context.Context, id TraceConnID, query string, refetched int, err error)
}

func itoa(buf []byte, val int64) []byte {
	i := len(buf) - 1
	neg := false
	if val < 0 {
		neg = true
		val = 0 - val
	}
	for val >= 10 {
		buf[i] = byte(val%10 + '0')
		i--
		val /= 10
	}
	buf[i] = byte(val + '0')
	if neg {
		i--
		buf[i] = '-'
	}
	return buf[i:]
}
