package httputil

// Machine-readable error codes returned alongside human-readable messages.
const (
	CodeInvalidRequestBody = "invalid_request_body"
	CodeValidationFailed   = "validation_failed"
	CodeInternalError      = "internal_error"
	CodeNotFound           = "not_found"
	CodeForbidden          = "forbidden"

	CodeInvalidCredentials = "invalid_credentials"
	CodeUserExists         = "user_exists"
	CodeMissingAuth        = "missing_auth"
	CodeInvalidToken       = "invalid_token"
	CodeTokenExpired       = "token_expired"
	CodeSessionRevoked     = "session_revoked"

	CodeInvalidEmail       = "invalid_email"
	CodeVerificationFailed = "verification_failed"
	CodeAlreadyVerified    = "already_verified"
	CodeMailDeliveryFailed = "mail_delivery_failed"

	CodeShortCodeExists = "short_code_exists"
)
