package keelc

// ErrorCode enumerates the recoverable runtime error tier (spec.md §7 tier 1).
type ErrorCode int

const (
	RuntimeOK ErrorCode = iota
	ErrorOutOfMemory
	ErrorInvalidPointer
	ErrorDoubleFree
	ErrorInvalidArgument
	ErrorFileNotFound
	ErrorFileIO
)

func (c ErrorCode) String() string {
	switch c {
	case RuntimeOK:
		return "RUNTIME_OK"
	case ErrorOutOfMemory:
		return "ERROR_OUT_OF_MEMORY"
	case ErrorInvalidPointer:
		return "ERROR_INVALID_POINTER"
	case ErrorDoubleFree:
		return "ERROR_DOUBLE_FREE"
	case ErrorInvalidArgument:
		return "ERROR_INVALID_ARGUMENT"
	case ErrorFileNotFound:
		return "ERROR_FILE_NOT_FOUND"
	case ErrorFileIO:
		return "ERROR_FILE_IO"
	default:
		return "ERROR_UNKNOWN"
	}
}
