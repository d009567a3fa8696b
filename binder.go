// Copyright (c) 2024 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlbind

import (
	"bytes"
	"database/sql"
	"fmt"
	"math"
	"reflect"
	"time"
	"unsafe"

	"github.com/tailscale/sqlbind/bindh"
)

// binder marshals one caller-owned variable into and out of one Bind.
//
// The hooks are called by a bindSet, in order, on the Bind at the
// binder's slot:
//
//	preExecute, [engine executes], postExecute
//	preFetch, [engine fetches], postFetch, [engine refetches], postRefetch
//
// postRefetch is only called if postFetch reported true.
type binder interface {
	preExecute(b *bindh.Bind)
	postExecute(b *bindh.Bind)
	preFetch(b *bindh.Bind)
	postFetch(b *bindh.Bind) (refetch bool)
	postRefetch(b *bindh.Bind)
}

// scalar is the set of Go types with a fixed-width wire encoding.
type scalar interface {
	int8 | int16 | int32 | int64 | int |
		uint8 | uint16 | uint32 | uint64 | uint |
		float32 | float64 | bool | time.Time
}

func scalarType[T scalar]() (typ bindh.FieldType, unsigned bool) {
	var zero T
	switch any(zero).(type) {
	case int8:
		return bindh.MYSQL_TYPE_TINY, false
	case uint8:
		return bindh.MYSQL_TYPE_TINY, true
	case bool:
		return bindh.MYSQL_TYPE_TINY, true
	case int16:
		return bindh.MYSQL_TYPE_SHORT, false
	case uint16:
		return bindh.MYSQL_TYPE_SHORT, true
	case int32:
		return bindh.MYSQL_TYPE_LONG, false
	case uint32:
		return bindh.MYSQL_TYPE_LONG, true
	case int64, int:
		return bindh.MYSQL_TYPE_LONGLONG, false
	case uint64, uint:
		return bindh.MYSQL_TYPE_LONGLONG, true
	case float32:
		return bindh.MYSQL_TYPE_FLOAT, false
	case float64:
		return bindh.MYSQL_TYPE_DOUBLE, false
	case time.Time:
		return bindh.MYSQL_TYPE_DATETIME, false
	}
	panic(fmt.Sprintf("sqlbind: impossible scalar type %T", zero))
}

func putScalar[T scalar](buf []byte, v T) {
	o := bindh.NativeEndian
	switch v := any(v).(type) {
	case int8:
		buf[0] = byte(v)
	case uint8:
		buf[0] = v
	case bool:
		buf[0] = 0
		if v {
			buf[0] = 1
		}
	case int16:
		o.PutUint16(buf, uint16(v))
	case uint16:
		o.PutUint16(buf, v)
	case int32:
		o.PutUint32(buf, uint32(v))
	case uint32:
		o.PutUint32(buf, v)
	case int64:
		o.PutUint64(buf, uint64(v))
	case int:
		o.PutUint64(buf, uint64(v))
	case uint64:
		o.PutUint64(buf, v)
	case uint:
		o.PutUint64(buf, uint64(v))
	case float32:
		o.PutUint32(buf, math.Float32bits(v))
	case float64:
		o.PutUint64(buf, math.Float64bits(v))
	case time.Time:
		bindh.PutDatetime(buf, v)
	}
}

func getScalar[T scalar](buf []byte) T {
	o := bindh.NativeEndian
	var v T
	switch p := any(&v).(type) {
	case *int8:
		*p = int8(buf[0])
	case *uint8:
		*p = buf[0]
	case *bool:
		*p = buf[0] != 0
	case *int16:
		*p = int16(o.Uint16(buf))
	case *uint16:
		*p = o.Uint16(buf)
	case *int32:
		*p = int32(o.Uint32(buf))
	case *uint32:
		*p = o.Uint32(buf)
	case *int64:
		*p = int64(o.Uint64(buf))
	case *int:
		*p = int(o.Uint64(buf))
	case *uint64:
		*p = o.Uint64(buf)
	case *uint:
		*p = uint(o.Uint64(buf))
	case *float32:
		*p = math.Float32frombits(o.Uint32(buf))
	case *float64:
		*p = math.Float64frombits(o.Uint64(buf))
	case *time.Time:
		*p = bindh.Datetime(buf)
	}
	return v
}

// scalarBinder binds a fixed-width variable.
// The value is staged through an inline buffer, so the binder
// holds no heap memory of its own.
type scalarBinder[T scalar] struct {
	v       *T
	scratch [bindh.MaxFixedSize]byte
}

func (s *scalarBinder[T]) reset(b *bindh.Bind) {
	typ, unsigned := scalarType[T]()
	*b = bindh.Bind{
		Type:     typ,
		Unsigned: unsigned,
		Buffer:   s.scratch[:typ.Size()],
		Length:   uint64(typ.Size()),
	}
}

func (s *scalarBinder[T]) preExecute(b *bindh.Bind) {
	s.reset(b)
	putScalar(b.Buffer, *s.v)
}

func (s *scalarBinder[T]) postExecute(b *bindh.Bind) {}
func (s *scalarBinder[T]) preFetch(b *bindh.Bind)    { s.reset(b) }

func (s *scalarBinder[T]) postFetch(b *bindh.Bind) bool {
	if b.IsNull {
		var zero T
		*s.v = zero
		return false
	}
	*s.v = getScalar[T](b.Buffer)
	return false
}

func (s *scalarBinder[T]) postRefetch(b *bindh.Bind) {}

// nullScalarBinder binds a fixed-width variable that may be NULL,
// such as an sql.Null[int64].
type nullScalarBinder[T scalar] struct {
	get     func() (T, bool)
	set     func(T, bool)
	scratch [bindh.MaxFixedSize]byte
}

func (s *nullScalarBinder[T]) reset(b *bindh.Bind) {
	typ, unsigned := scalarType[T]()
	*b = bindh.Bind{
		Type:     typ,
		Unsigned: unsigned,
		Buffer:   s.scratch[:typ.Size()],
		Length:   uint64(typ.Size()),
	}
}

func (s *nullScalarBinder[T]) preExecute(b *bindh.Bind) {
	s.reset(b)
	v, ok := s.get()
	if !ok {
		b.IsNull = true
		return
	}
	putScalar(b.Buffer, v)
}

func (s *nullScalarBinder[T]) postExecute(b *bindh.Bind) {}
func (s *nullScalarBinder[T]) preFetch(b *bindh.Bind)    { s.reset(b) }

func (s *nullScalarBinder[T]) postFetch(b *bindh.Bind) bool {
	if b.IsNull {
		var zero T
		s.set(zero, false)
		return false
	}
	s.set(getScalar[T](b.Buffer), true)
	return false
}

func (s *nullScalarBinder[T]) postRefetch(b *bindh.Bind) {}

func nullScalar[T scalar](p *sql.Null[T]) binder {
	return &nullScalarBinder[T]{
		get: func() (T, bool) { return p.V, p.Valid },
		set: func(v T, ok bool) { p.V, p.Valid = v, ok },
	}
}

// text is the set of Go types bound as variable-length values.
type text interface {
	string | []byte
}

func textType[S text]() bindh.FieldType {
	var zero S
	if _, ok := any(zero).([]byte); ok {
		return bindh.MYSQL_TYPE_BLOB
	}
	return bindh.MYSQL_TYPE_STRING
}

// view returns the bytes of s without copying.
// The engine only reads parameter buffers, so a string's
// immutable backing array can be handed to it directly.
func view[S text](s S) []byte {
	switch s := any(s).(type) {
	case string:
		return unsafe.Slice(unsafe.StringData(s), len(s))
	case []byte:
		return s
	}
	return nil
}

// textBinder binds a string or []byte variable, optionally nullable.
//
// On execute the Bind borrows the variable's bytes. On fetch the
// binder owns buf, which starts at one byte and is resized to the
// length the engine reports if the value did not fit.
type textBinder[S text] struct {
	get func() (S, bool)
	set func(S, bool)
	buf []byte
}

func (t *textBinder[S]) preExecute(b *bindh.Bind) {
	v, ok := t.get()
	if !ok {
		*b = bindh.Bind{Type: textType[S](), IsNull: true}
		return
	}
	buf := view(v)
	*b = bindh.Bind{
		Type:   textType[S](),
		Buffer: buf,
		Length: uint64(len(buf)),
	}
}

func (t *textBinder[S]) postExecute(b *bindh.Bind) {}

func (t *textBinder[S]) preFetch(b *bindh.Bind) {
	// The engine needs a non-empty buffer to report truncation.
	if cap(t.buf) == 0 {
		t.buf = make([]byte, 1)
	}
	t.buf = t.buf[:1]
	*b = bindh.Bind{
		Type:   textType[S](),
		Buffer: t.buf,
	}
}

func (t *textBinder[S]) postFetch(b *bindh.Bind) bool {
	if b.IsNull {
		var zero S
		t.set(zero, false)
		return false
	}
	if b.Length > uint64(len(t.buf)) {
		t.buf = make([]byte, b.Length)
		b.Buffer = t.buf
		return true
	}
	t.finish(int(b.Length))
	return false
}

func (t *textBinder[S]) postRefetch(b *bindh.Bind) {
	t.finish(len(t.buf))
}

func (t *textBinder[S]) finish(n int) {
	t.set(S(t.buf[:n:n]), true)
	if _, ok := any(t.buf).(S); ok {
		// The caller now owns buf.
		t.buf = nil
	}
}

func newText[S text](p *S) binder {
	return &textBinder[S]{
		get: func() (S, bool) { return *p, true },
		set: func(v S, _ bool) { *p = v },
	}
}

func nullText[S text](p *sql.Null[S]) binder {
	return &textBinder[S]{
		get: func() (S, bool) { return p.V, p.Valid },
		set: func(v S, ok bool) { p.V, p.Valid = v, ok },
	}
}

// newBinder returns the binder for v, chosen by its static type.
// v must be a non-nil pointer.
func newBinder(v any) (binder, error) {
	if rv := reflect.ValueOf(v); !rv.IsValid() || rv.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("%w: %T is not a pointer", ErrUnsupportedType, v)
	} else if rv.IsNil() {
		return nil, fmt.Errorf("%w: nil %T", ErrUnsupportedType, v)
	}
	switch p := v.(type) {
	case *int8:
		return &scalarBinder[int8]{v: p}, nil
	case *int16:
		return &scalarBinder[int16]{v: p}, nil
	case *int32:
		return &scalarBinder[int32]{v: p}, nil
	case *int64:
		return &scalarBinder[int64]{v: p}, nil
	case *int:
		return &scalarBinder[int]{v: p}, nil
	case *uint8:
		return &scalarBinder[uint8]{v: p}, nil
	case *uint16:
		return &scalarBinder[uint16]{v: p}, nil
	case *uint32:
		return &scalarBinder[uint32]{v: p}, nil
	case *uint64:
		return &scalarBinder[uint64]{v: p}, nil
	case *uint:
		return &scalarBinder[uint]{v: p}, nil
	case *float32:
		return &scalarBinder[float32]{v: p}, nil
	case *float64:
		return &scalarBinder[float64]{v: p}, nil
	case *bool:
		return &scalarBinder[bool]{v: p}, nil
	case *time.Time:
		return &scalarBinder[time.Time]{v: p}, nil

	case *sql.Null[int8]:
		return nullScalar(p), nil
	case *sql.Null[int16]:
		return nullScalar(p), nil
	case *sql.Null[int32]:
		return nullScalar(p), nil
	case *sql.Null[int64]:
		return nullScalar(p), nil
	case *sql.Null[int]:
		return nullScalar(p), nil
	case *sql.Null[uint8]:
		return nullScalar(p), nil
	case *sql.Null[uint16]:
		return nullScalar(p), nil
	case *sql.Null[uint32]:
		return nullScalar(p), nil
	case *sql.Null[uint64]:
		return nullScalar(p), nil
	case *sql.Null[uint]:
		return nullScalar(p), nil
	case *sql.Null[float32]:
		return nullScalar(p), nil
	case *sql.Null[float64]:
		return nullScalar(p), nil
	case *sql.Null[bool]:
		return nullScalar(p), nil
	case *sql.Null[time.Time]:
		return nullScalar(p), nil

	case *sql.NullInt64:
		return &nullScalarBinder[int64]{
			get: func() (int64, bool) { return p.Int64, p.Valid },
			set: func(v int64, ok bool) { p.Int64, p.Valid = v, ok },
		}, nil
	case *sql.NullInt32:
		return &nullScalarBinder[int32]{
			get: func() (int32, bool) { return p.Int32, p.Valid },
			set: func(v int32, ok bool) { p.Int32, p.Valid = v, ok },
		}, nil
	case *sql.NullInt16:
		return &nullScalarBinder[int16]{
			get: func() (int16, bool) { return p.Int16, p.Valid },
			set: func(v int16, ok bool) { p.Int16, p.Valid = v, ok },
		}, nil
	case *sql.NullByte:
		return &nullScalarBinder[uint8]{
			get: func() (uint8, bool) { return p.Byte, p.Valid },
			set: func(v uint8, ok bool) { p.Byte, p.Valid = v, ok },
		}, nil
	case *sql.NullFloat64:
		return &nullScalarBinder[float64]{
			get: func() (float64, bool) { return p.Float64, p.Valid },
			set: func(v float64, ok bool) { p.Float64, p.Valid = v, ok },
		}, nil
	case *sql.NullBool:
		return &nullScalarBinder[bool]{
			get: func() (bool, bool) { return p.Bool, p.Valid },
			set: func(v bool, ok bool) { p.Bool, p.Valid = v, ok },
		}, nil
	case *sql.NullTime:
		return &nullScalarBinder[time.Time]{
			get: func() (time.Time, bool) { return p.Time, p.Valid },
			set: func(v time.Time, ok bool) { p.Time, p.Valid = v, ok },
		}, nil

	case *string:
		return newText(p), nil
	case *[]byte:
		return newText(p), nil
	case *sql.Null[string]:
		return nullText(p), nil
	case *sql.Null[[]byte]:
		return nullText(p), nil
	case *sql.NullString:
		return &textBinder[string]{
			get: func() (string, bool) { return p.String, p.Valid },
			set: func(v string, ok bool) { p.String, p.Valid = v, ok },
		}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

// boxParam copies a non-pointer parameter value into a new variable,
// so it can be bound like any other. Byte slices are copied too.
func boxParam(v any) any {
	switch b := v.(type) {
	case []byte:
		v = bytes.Clone(b)
	case sql.Null[[]byte]:
		b.V = bytes.Clone(b.V)
		v = b
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() == reflect.Pointer {
		return v
	}
	p := reflect.New(rv.Type())
	p.Elem().Set(rv)
	return p.Interface()
}
