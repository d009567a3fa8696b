package bindh

import "time"

// FieldType is an enum_field_types value, the type tag of a Bind.
type FieldType byte

const (
	MYSQL_TYPE_DECIMAL     FieldType = 0
	MYSQL_TYPE_TINY        FieldType = 1
	MYSQL_TYPE_SHORT       FieldType = 2
	MYSQL_TYPE_LONG        FieldType = 3
	MYSQL_TYPE_FLOAT       FieldType = 4
	MYSQL_TYPE_DOUBLE      FieldType = 5
	MYSQL_TYPE_NULL        FieldType = 6
	MYSQL_TYPE_TIMESTAMP   FieldType = 7
	MYSQL_TYPE_LONGLONG    FieldType = 8
	MYSQL_TYPE_INT24       FieldType = 9
	MYSQL_TYPE_DATE        FieldType = 10
	MYSQL_TYPE_TIME        FieldType = 11
	MYSQL_TYPE_DATETIME    FieldType = 12
	MYSQL_TYPE_YEAR        FieldType = 13
	MYSQL_TYPE_NEWDATE     FieldType = 14
	MYSQL_TYPE_VARCHAR     FieldType = 15
	MYSQL_TYPE_BIT         FieldType = 16
	MYSQL_TYPE_JSON        FieldType = 245
	MYSQL_TYPE_NEWDECIMAL  FieldType = 246
	MYSQL_TYPE_ENUM        FieldType = 247
	MYSQL_TYPE_SET         FieldType = 248
	MYSQL_TYPE_TINY_BLOB   FieldType = 249
	MYSQL_TYPE_MEDIUM_BLOB FieldType = 250
	MYSQL_TYPE_LONG_BLOB   FieldType = 251
	MYSQL_TYPE_BLOB        FieldType = 252
	MYSQL_TYPE_VAR_STRING  FieldType = 253
	MYSQL_TYPE_STRING      FieldType = 254
	MYSQL_TYPE_GEOMETRY    FieldType = 255
)

// DatetimeSize is the size of a MYSQL_TYPE_DATETIME buffer.
const DatetimeSize = 11

// MaxFixedSize is the largest Size of any fixed-width FieldType.
const MaxFixedSize = DatetimeSize

// Size reports the buffer size of a fixed-width type.
// Variable-length types (strings, blobs, decimals) report 0.
func (t FieldType) Size() int {
	switch t {
	case MYSQL_TYPE_TINY:
		return 1
	case MYSQL_TYPE_SHORT, MYSQL_TYPE_YEAR:
		return 2
	case MYSQL_TYPE_LONG, MYSQL_TYPE_INT24, MYSQL_TYPE_FLOAT:
		return 4
	case MYSQL_TYPE_LONGLONG, MYSQL_TYPE_DOUBLE:
		return 8
	case MYSQL_TYPE_DATETIME, MYSQL_TYPE_TIMESTAMP, MYSQL_TYPE_DATE:
		return DatetimeSize
	default:
		return 0
	}
}

// IsInteger reports whether t is one of the integer types.
func (t FieldType) IsInteger() bool {
	switch t {
	case MYSQL_TYPE_TINY, MYSQL_TYPE_SHORT, MYSQL_TYPE_YEAR,
		MYSQL_TYPE_LONG, MYSQL_TYPE_INT24, MYSQL_TYPE_LONGLONG:
		return true
	}
	return false
}

func (t FieldType) String() string {
	switch t {
	case MYSQL_TYPE_DECIMAL:
		return "MYSQL_TYPE_DECIMAL"
	case MYSQL_TYPE_TINY:
		return "MYSQL_TYPE_TINY"
	case MYSQL_TYPE_SHORT:
		return "MYSQL_TYPE_SHORT"
	case MYSQL_TYPE_LONG:
		return "MYSQL_TYPE_LONG"
	case MYSQL_TYPE_FLOAT:
		return "MYSQL_TYPE_FLOAT"
	case MYSQL_TYPE_DOUBLE:
		return "MYSQL_TYPE_DOUBLE"
	case MYSQL_TYPE_NULL:
		return "MYSQL_TYPE_NULL"
	case MYSQL_TYPE_TIMESTAMP:
		return "MYSQL_TYPE_TIMESTAMP"
	case MYSQL_TYPE_LONGLONG:
		return "MYSQL_TYPE_LONGLONG"
	case MYSQL_TYPE_INT24:
		return "MYSQL_TYPE_INT24"
	case MYSQL_TYPE_DATE:
		return "MYSQL_TYPE_DATE"
	case MYSQL_TYPE_TIME:
		return "MYSQL_TYPE_TIME"
	case MYSQL_TYPE_DATETIME:
		return "MYSQL_TYPE_DATETIME"
	case MYSQL_TYPE_YEAR:
		return "MYSQL_TYPE_YEAR"
	case MYSQL_TYPE_NEWDATE:
		return "MYSQL_TYPE_NEWDATE"
	case MYSQL_TYPE_VARCHAR:
		return "MYSQL_TYPE_VARCHAR"
	case MYSQL_TYPE_BIT:
		return "MYSQL_TYPE_BIT"
	case MYSQL_TYPE_JSON:
		return "MYSQL_TYPE_JSON"
	case MYSQL_TYPE_NEWDECIMAL:
		return "MYSQL_TYPE_NEWDECIMAL"
	case MYSQL_TYPE_ENUM:
		return "MYSQL_TYPE_ENUM"
	case MYSQL_TYPE_SET:
		return "MYSQL_TYPE_SET"
	case MYSQL_TYPE_TINY_BLOB:
		return "MYSQL_TYPE_TINY_BLOB"
	case MYSQL_TYPE_MEDIUM_BLOB:
		return "MYSQL_TYPE_MEDIUM_BLOB"
	case MYSQL_TYPE_LONG_BLOB:
		return "MYSQL_TYPE_LONG_BLOB"
	case MYSQL_TYPE_BLOB:
		return "MYSQL_TYPE_BLOB"
	case MYSQL_TYPE_VAR_STRING:
		return "MYSQL_TYPE_VAR_STRING"
	case MYSQL_TYPE_STRING:
		return "MYSQL_TYPE_STRING"
	case MYSQL_TYPE_GEOMETRY:
		return "MYSQL_TYPE_GEOMETRY"
	default:
		var buf [20]byte
		return "MYSQL_TYPE_UNKNOWN(" + string(itoa(buf[:], int64(t))) + ")"
	}
}

// PutDatetime writes the wall clock of t into b, which must be at
// least DatetimeSize bytes, as a MYSQL_TIME-like record:
//
//	year(2) month(1) day(1) hour(1) minute(1) second(1) microsecond(4)
//
// The location of t is not recorded.
func PutDatetime(b []byte, t time.Time) {
	_ = b[DatetimeSize-1]
	NativeEndian.PutUint16(b[0:2], uint16(t.Year()))
	b[2] = byte(t.Month())
	b[3] = byte(t.Day())
	b[4] = byte(t.Hour())
	b[5] = byte(t.Minute())
	b[6] = byte(t.Second())
	NativeEndian.PutUint32(b[7:11], uint32(t.Nanosecond()/1000))
}

// Datetime decodes a record written by PutDatetime as a UTC time.
func Datetime(b []byte) time.Time {
	_ = b[DatetimeSize-1]
	return time.Date(
		int(NativeEndian.Uint16(b[0:2])),
		time.Month(b[2]),
		int(b[3]),
		int(b[4]),
		int(b[5]),
		int(b[6]),
		int(NativeEndian.Uint32(b[7:11]))*1000,
		time.UTC,
	)
}
