package logger

// Standard field names for consistent structured logging across weir.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRunID       = "run_id"
	FieldParentRunID = "parent_run_id"
	FieldGraph       = "graph"
	FieldKind        = "kind"

	// Transformation
	FieldStep    = "step"
	FieldHop     = "hop"
	FieldWorker  = "worker"
	FieldPolicy  = "failure_policy"
	FieldRowsIn  = "rows_read"
	FieldRowsOut = "rows_written"
	FieldRow     = "row"

	// Job
	FieldEntry     = "entry"
	FieldEntryNr   = "entry_nr"
	FieldCondition = "condition"
	FieldNext      = "next"

	// Hooks
	FieldHook     = "hook"
	FieldListener = "listener"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError  = "error"
	FieldErrors = "errors"

	// Counts
	FieldCount = "count"

	// Status
	FieldSuccess = "success"

	// Files and paths
	FieldFile = "file"

	// weir-specific
	FieldSymbol = "symbol"
)
