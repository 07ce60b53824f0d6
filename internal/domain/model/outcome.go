package model

// BalanceUnavailable is the display value used when a balance cannot be fetched.
const BalanceUnavailable = "Error"

// ValidationResult reports whether an API key is live, and the account balance.
// It is never persisted.
type ValidationResult struct {
	IsValid  bool
	Message  string // Success: balance formatted to 2 decimals. Failure: human-readable reason.
	Balance  float64
	Provider Provider
	Err      error // *Error describing the failure; nil when IsValid.
}

// FailedValidation converts a tagged error into an invalid ValidationResult.
func FailedValidation(provider Provider, err *Error) ValidationResult {
	return ValidationResult{IsValid: false, Message: err.Text(), Provider: provider, Err: err}
}

// AuthOutcome is returned by every AuthService flow.
//
// On first enrollment Message carries the generated PIN; on PIN login it carries the
// raw API key for immediate client construction and must not be displayed.
type AuthOutcome struct {
	Success bool
	Message string
	Balance string
	Err     error // *Error describing the failure; nil on success.
}

// FailedOutcome converts a tagged error into a failed AuthOutcome whose Message is
// the error's user-facing text.
func FailedOutcome(err *Error) AuthOutcome {
	return AuthOutcome{Success: false, Message: err.Text(), Err: err}
}
