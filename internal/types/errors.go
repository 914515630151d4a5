package types

// Error codes carried in ErrorBody.Code. The numeric suffix matches the HTTP
// status the REST API answers with.
const (
	CodeAuthBadRequest   = "AUTH_400"
	CodeUnauthenticated  = "AUTH_401"
	CodeForbidden        = "AUTH_403"
	CodeAuthDisabled     = "AUTH_404"
	CodeStageBadRequest  = "STAGE_400"
	CodeStageNotFound    = "STAGE_404"
	CodeStageUnsupported = "STAGE_501"
	CodeStageDevice      = "STAGE_502"
	CodeStageTimeout     = "STAGE_504"
	CodeProfileNotFound  = "PROFILE_404"
	CodeProfileInvalid   = "PROFILE_422"
	CodeProfileInternal  = "PROFILE_500"
	CodeDatabase         = "DB_500"
)

// ErrorBody is the "error" object of every failed REST reply.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds an error reply; details is whatever helps the
// caller, usually the underlying error text or the offending value.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}}
}
