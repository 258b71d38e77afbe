package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 20000-20999: Configuration errors (fatal, abort before execution)
// 21000-21999: Target execution errors (recorded per target)
// 22000-22999: Coverage merge & rank errors
// 23000-23999: Storage, messaging and persistence errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Configuration Errors (20000-20999) ==========

	ConfigInvalid     ErrorCode = 20000
	ToolNotFound      ErrorCode = 20001
	SourceDirMissing  ErrorCode = 20002
	DuplicateTest     ErrorCode = 20003
	TestListInvalid   ErrorCode = 20004
	BackendNotFound   ErrorCode = 20005
	SimBinaryMissing  ErrorCode = 20006
	BackendInitFailed ErrorCode = 20007

	// ========== Execution Errors (21000-21999) ==========

	CompileFailed     ErrorCode = 21000
	SimulationFailed  ErrorCode = 21001
	TargetTimeout     ErrorCode = 21002
	TargetStartFailed ErrorCode = 21003
	BuildFileFailed   ErrorCode = 21004
	StageFailed       ErrorCode = 21005

	// ========== Coverage Errors (22000-22999) ==========

	MergeInputEmpty  ErrorCode = 22000
	MergeWarning     ErrorCode = 22001
	MergeFailed      ErrorCode = 22002
	ReportFailed     ErrorCode = 22003
	RankFailed       ErrorCode = 22004
	CoverageCorrupt  ErrorCode = 22005
	MergeInProgress  ErrorCode = 22006
	ReclaimWarning   ErrorCode = 22100
	CollectionFailed ErrorCode = 22101

	// ========== Storage & Infra Errors (23000-23999) ==========

	StorageError  ErrorCode = 23000
	ArchiveFailed ErrorCode = 23001
	PublishFailed ErrorCode = 23002
	DatabaseError ErrorCode = 23003
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Operation timeout",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Configuration
	ConfigInvalid:     "Invalid configuration",
	ToolNotFound:      "Required tool not found in $PATH",
	SourceDirMissing:  "Source directory does not exist",
	DuplicateTest:     "Duplicate test name",
	TestListInvalid:   "Invalid test list",
	BackendNotFound:   "Simulator backend not supported",
	SimBinaryMissing:  "Simulator binary does not exist",
	BackendInitFailed: "Simulator backend initialisation failed",

	// Execution
	CompileFailed:     "Compilation failed",
	SimulationFailed:  "Simulation failed",
	TargetTimeout:     "Target timed out",
	TargetStartFailed: "Target could not be started",
	BuildFileFailed:   "Failed to write build file",
	StageFailed:       "Pipeline stage failed",

	// Coverage
	MergeInputEmpty:  "No coverage databases to merge",
	MergeWarning:     "Coverage database skipped",
	MergeFailed:      "Coverage merge failed",
	ReportFailed:     "Coverage report failed",
	RankFailed:       "Coverage ranking failed",
	CoverageCorrupt:  "Coverage database is corrupt",
	MergeInProgress:  "Another merge is writing the same output",
	ReclaimWarning:   "Artifact cleanup failed",
	CollectionFailed: "Coverage collection failed",

	// Storage & Infra
	StorageError:  "Object storage operation failed",
	ArchiveFailed: "Failed to archive artifacts",
	PublishFailed: "Failed to publish event",
	DatabaseError: "Database operation failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// IsConfiguration reports whether the code belongs to the fatal configuration range.
func (c ErrorCode) IsConfiguration() bool {
	return c >= 20000 && c < 21000
}

// ExitCode returns the process exit status the CLI uses for the error code
func (c ErrorCode) ExitCode() int {
	switch {
	case c == Success:
		return 0
	case c.IsConfiguration(), c == MergeInputEmpty:
		return 2
	default:
		return 1
	}
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound:
		return 404
	case c == MergeInProgress, c == LockFailed:
		return 409
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
