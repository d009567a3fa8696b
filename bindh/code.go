package bindh

import "sync"

// ErrCode is an engine error code as a Go error.
// It must not be zero.
type ErrCode Code

func (e ErrCode) Error() string {
	return Code(e).String()
}

// Code is an engine error code.
//
// Codes from CR_MIN_ERROR up are client errors, raised by the binding
// protocol itself (see MySQL's errmsg.h). Codes below it are reported
// by the engine and are engine specific.
type Code int

const (
	CR_OK = Code(0) // do not use in ErrCode

	CR_MIN_ERROR               = Code(2000)
	CR_UNKNOWN_ERROR           = Code(2000)
	CR_SERVER_GONE_ERROR       = Code(2006)
	CR_OUT_OF_MEMORY           = Code(2008)
	CR_COMMANDS_OUT_OF_SYNC    = Code(2014)
	CR_NO_PREPARE_STMT         = Code(2030)
	CR_PARAMS_NOT_BOUND        = Code(2031)
	CR_DATA_TRUNCATED          = Code(2032)
	CR_NO_PARAMETERS_EXISTS    = Code(2033)
	CR_INVALID_PARAMETER_NO    = Code(2034)
	CR_INVALID_BUFFER_USE      = Code(2035)
	CR_UNSUPPORTED_PARAM_TYPE  = Code(2036)
	CR_FETCH_CANCELED          = Code(2050)
	CR_NO_DATA                 = Code(2051)
	CR_NO_STMT_METADATA        = Code(2052)
	CR_NO_RESULT_SET           = Code(2053)
	CR_NOT_IMPLEMENTED         = Code(2054)
	CR_STMT_CLOSED             = Code(2056)
	CR_NEW_STMT_METADATA       = Code(2057)
	CR_ALREADY_CONNECTED       = Code(2058)
	CR_INSECURE_API_ERR        = Code(2062)
	CR_FILE_NAME_TOO_LONG      = Code(2063)
	CR_SSL_FIPS_MODE_ERR       = Code(2064)
	CR_DEPRECATED_COMPRESSION  = Code(2065)
	CR_COMPRESSION_WRONGLY_SET = Code(2066)
)

func (code Code) String() string {
	switch code {
	default:
		var buf [20]byte
		if code < CR_MIN_ERROR {
			return "ENGINE_ERROR(" + string(itoa(buf[:], int64(code))) + ")"
		}
		return "CR_UNKNOWN(" + string(itoa(buf[:], int64(code))) + ")"
	case CR_OK:
		return "CR_OK(not an error)"
	case CR_UNKNOWN_ERROR:
		return "CR_UNKNOWN_ERROR"
	case CR_SERVER_GONE_ERROR:
		return "CR_SERVER_GONE_ERROR"
	case CR_OUT_OF_MEMORY:
		return "CR_OUT_OF_MEMORY"
	case CR_COMMANDS_OUT_OF_SYNC:
		return "CR_COMMANDS_OUT_OF_SYNC"
	case CR_NO_PREPARE_STMT:
		return "CR_NO_PREPARE_STMT"
	case CR_PARAMS_NOT_BOUND:
		return "CR_PARAMS_NOT_BOUND"
	case CR_DATA_TRUNCATED:
		return "CR_DATA_TRUNCATED"
	case CR_NO_PARAMETERS_EXISTS:
		return "CR_NO_PARAMETERS_EXISTS"
	case CR_INVALID_PARAMETER_NO:
		return "CR_INVALID_PARAMETER_NO"
	case CR_INVALID_BUFFER_USE:
		return "CR_INVALID_BUFFER_USE"
	case CR_UNSUPPORTED_PARAM_TYPE:
		return "CR_UNSUPPORTED_PARAM_TYPE"
	case CR_FETCH_CANCELED:
		return "CR_FETCH_CANCELED"
	case CR_NO_DATA:
		return "CR_NO_DATA"
	case CR_NO_STMT_METADATA:
		return "CR_NO_STMT_METADATA"
	case CR_NO_RESULT_SET:
		return "CR_NO_RESULT_SET"
	case CR_NOT_IMPLEMENTED:
		return "CR_NOT_IMPLEMENTED"
	case CR_STMT_CLOSED:
		return "CR_STMT_CLOSED"
	case CR_NEW_STMT_METADATA:
		return "CR_NEW_STMT_METADATA"
	case CR_ALREADY_CONNECTED:
		return "CR_ALREADY_CONNECTED"
	case CR_INSECURE_API_ERR:
		return "CR_INSECURE_API_ERR"
	case CR_FILE_NAME_TOO_LONG:
		return "CR_FILE_NAME_TOO_LONG"
	case CR_SSL_FIPS_MODE_ERR:
		return "CR_SSL_FIPS_MODE_ERR"
	case CR_DEPRECATED_COMPRESSION:
		return "CR_DEPRECATED_COMPRESSION"
	case CR_COMPRESSION_WRONGLY_SET:
		return "CR_COMPRESSION_WRONGLY_SET"
	}
}

// Message is the client library's message text for a client error code.
// It is empty for engine codes.
func (code Code) Message() string {
	switch code {
	case CR_UNKNOWN_ERROR:
		return "Unknown MySQL error"
	case CR_SERVER_GONE_ERROR:
		return "MySQL server has gone away"
	case CR_OUT_OF_MEMORY:
		return "MySQL client ran out of memory"
	case CR_COMMANDS_OUT_OF_SYNC:
		return "Commands out of sync; you can't run this command now"
	case CR_NO_PREPARE_STMT:
		return "Statement not prepared"
	case CR_PARAMS_NOT_BOUND:
		return "No data supplied for parameters in prepared statement"
	case CR_DATA_TRUNCATED:
		return "Data truncated"
	case CR_NO_PARAMETERS_EXISTS:
		return "No parameters exist in the statement"
	case CR_INVALID_PARAMETER_NO:
		return "Invalid parameter number"
	case CR_INVALID_BUFFER_USE:
		return "Can't send long data for non-string/non-binary data types"
	case CR_UNSUPPORTED_PARAM_TYPE:
		return "Using unsupported buffer type"
	case CR_FETCH_CANCELED:
		return "Row retrieval was canceled by mysql_stmt_close() call"
	case CR_NO_DATA:
		return "Attempt to read column without prior row fetch"
	case CR_NO_STMT_METADATA:
		return "Prepared statement contains no metadata"
	case CR_NO_RESULT_SET:
		return "Attempt to read a row while there is no result set associated with the statement"
	case CR_NOT_IMPLEMENTED:
		return "This feature is not implemented yet"
	case CR_STMT_CLOSED:
		return "Statement closed indirectly because of a preceding call"
	}
	return ""
}

// CodeAsError is used to intern Codes into ErrCodes.
// CR_OK returns nil.
func CodeAsError(code Code) error {
	if code == CR_OK {
		return nil
	}
	codeAsErrorInitOnce.Do(codeAsErrorInit)
	err := codeAsError[code]
	if err == nil {
		return ErrCode(code)
	}
	return err
}

var codeAsError map[Code]error

var codeAsErrorInitOnce sync.Once

func codeAsErrorInit() {
	codeAsError = map[Code]error{
		CR_UNKNOWN_ERROR:          ErrCode(CR_UNKNOWN_ERROR),
		CR_SERVER_GONE_ERROR:      ErrCode(CR_SERVER_GONE_ERROR),
		CR_OUT_OF_MEMORY:          ErrCode(CR_OUT_OF_MEMORY),
		CR_COMMANDS_OUT_OF_SYNC:   ErrCode(CR_COMMANDS_OUT_OF_SYNC),
		CR_NO_PREPARE_STMT:        ErrCode(CR_NO_PREPARE_STMT),
		CR_PARAMS_NOT_BOUND:       ErrCode(CR_PARAMS_NOT_BOUND),
		CR_DATA_TRUNCATED:         ErrCode(CR_DATA_TRUNCATED),
		CR_NO_PARAMETERS_EXISTS:   ErrCode(CR_NO_PARAMETERS_EXISTS),
		CR_INVALID_PARAMETER_NO:   ErrCode(CR_INVALID_PARAMETER_NO),
		CR_INVALID_BUFFER_USE:     ErrCode(CR_INVALID_BUFFER_USE),
		CR_UNSUPPORTED_PARAM_TYPE: ErrCode(CR_UNSUPPORTED_PARAM_TYPE),
		CR_FETCH_CANCELED:         ErrCode(CR_FETCH_CANCELED),
		CR_NO_DATA:                ErrCode(CR_NO_DATA),
		CR_NO_STMT_METADATA:       ErrCode(CR_NO_STMT_METADATA),
		CR_NO_RESULT_SET:          ErrCode(CR_NO_RESULT_SET),
		CR_NOT_IMPLEMENTED:        ErrCode(CR_NOT_IMPLEMENTED),
		CR_STMT_CLOSED:            ErrCode(CR_STMT_CLOSED),
	}
}
