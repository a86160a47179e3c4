package models

// Stable error codes returned by the core actions API. These are the
// machine-readable contract surface for plugins; never rename.
const (
	ErrCodeInvalidUserID       = "INVALID_USER_ID"
	ErrCodeInvalidDate         = "INVALID_DATE"
	ErrCodeInvalidClosureRate  = "INVALID_CLOSURE_RATE"
	ErrCodeInvalidApproved     = "INVALID_APPROVED"
	ErrCodeInvalidFeedback     = "INVALID_FEEDBACK"
	ErrCodeInvalidTaskKey      = "INVALID_TASK_KEY"
	ErrCodeInvalidTargetDays   = "INVALID_TARGET_DAYS"
	ErrCodeInvalidSettings     = "INVALID_SETTINGS"
	ErrCodeNotInitialized      = "NOT_INITIALIZED"
	ErrCodePlanGenerationFail  = "PLAN_GENERATION_FAILED"
	ErrCodeApprovalFailed      = "APPROVAL_FAILED"
	ErrCodeRejectionFailed     = "REJECTION_FAILED"
	ErrCodeDecompositionFailed = "DECOMPOSITION_FAILED"
	ErrCodeStatusFetchFailed   = "STATUS_FETCH_FAILED"
	ErrCodeSettingsUpdateFail  = "SETTINGS_UPDATE_FAILED"
)

// ActionResult is returned by every core action. Expected failures (invalid
// input, uninitialised dependency, downstream error) are results, not errors.
type ActionResult struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
}

// OKResult builds a successful ActionResult carrying data.
func OKResult(data map[string]any) ActionResult {
	return ActionResult{Success: true, Data: data}
}

// FailResult builds a failed ActionResult with a stable code and message.
func FailResult(code, message string) ActionResult {
	return ActionResult{Success: false, Error: message, ErrorCode: code}
}
