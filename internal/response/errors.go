package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrEmailTaken         ErrCode = "EMAIL_TAKEN"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden       ErrCode = "FORBIDDEN"
	ErrAdminAccessOnly ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Journey-specific ──────────────────────────────────────────────
	ErrNoCurrentUser      ErrCode = "NO_CURRENT_USER"
	ErrInvalidAttempt     ErrCode = "INVALID_ATTEMPT"
	ErrNoJourney          ErrCode = "NO_ACTIVE_JOURNEY"
	ErrInvalidQuestion    ErrCode = "INVALID_QUESTION"
	ErrQuestionNotStarted ErrCode = "QUESTION_NOT_STARTED"
	ErrJourneyFinished    ErrCode = "JOURNEY_FINISHED"
	ErrNoSavedProgress    ErrCode = "NO_SAVED_PROGRESS"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email or password is incorrect."
	case ErrEmailTaken:
		return "An account with this email already exists."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrAdminAccessOnly:
		return "This resource is restricted to organization admins."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Journey-specific ──────────────────────────────────────────────
	case ErrNoCurrentUser:
		return "No signed-in user to record progress for."
	case ErrInvalidAttempt:
		return "An assignment and a positive number of questions are required."
	case ErrNoJourney:
		return "There is no active journey for this assignment."
	case ErrInvalidQuestion:
		return "The question ID or index is not valid for this journey."
	case ErrQuestionNotStarted:
		return "The question has not been started."
	case ErrJourneyFinished:
		return "This journey has already finished."
	case ErrNoSavedProgress:
		return "No saved progress exists for this assignment."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
