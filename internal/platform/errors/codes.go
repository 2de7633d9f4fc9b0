package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInvalidInput Code = "INVALID_INPUT"

	// Authentication errors
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeAccountLocked      Code = "ACCOUNT_LOCKED"
	CodeAccountInactive    Code = "ACCOUNT_INACTIVE"

	// WebAuthn ceremony errors
	CodeChallengeExpiredOrMissing Code = "CHALLENGE_EXPIRED_OR_MISSING"
	CodeCredentialNotFound        Code = "CREDENTIAL_NOT_FOUND"
	CodeVerificationFailed        Code = "VERIFICATION_FAILED"

	// User errors
	CodeUserEmptyEmail   Code = "USER_EMPTY_EMAIL"
	CodeUserInvalidEmail Code = "USER_INVALID_EMAIL"
	CodeUserEmailTaken   Code = "USER_EMAIL_TAKEN"
	CodeUserWeakPassword Code = "USER_WEAK_PASSWORD"

	// Session errors
	CodeSessionInvalid Code = "SESSION_INVALID"
	CodeSessionExpired Code = "SESSION_EXPIRED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidInput,
		CodeChallengeExpiredOrMissing,
		CodeCredentialNotFound,
		CodeVerificationFailed,
		CodeUserEmptyEmail,
		CodeUserInvalidEmail,
		CodeUserWeakPassword:
		return http.StatusBadRequest

	case CodeInvalidCredentials,
		CodeSessionInvalid,
		CodeSessionExpired:
		return http.StatusUnauthorized

	case CodeAccountLocked,
		CodeAccountInactive:
		return http.StatusForbidden

	case CodeUserEmailTaken:
		return http.StatusConflict

	case CodeNotFound:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}
