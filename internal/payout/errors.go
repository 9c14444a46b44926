package payout

import "fmt"

// Error codes returned to callers. Each precondition of PayoutToBank has its own code.
const (
	CodeWalletNotFound      = "wallet_not_found"
	CodeUnauthorizedWallet  = "unauthorized_wallet"
	CodeInvalidAmount       = "invalid_amount"
	CodeInsufficientFunds   = "insufficient_funds"
	CodeCurrencyMismatch    = "currency_mismatch"
	CodeVerificationFailed  = "account_verification_failed"
	CodeNoProvider          = "no_provider"
	CodeProviderError       = "provider_error"
	CodeOutcomeUnknown      = "outcome_unknown"
	CodeTransactionNotFound = "transaction_not_found"
)

// Error is a payout failure with a machine readable code. Reference is set
// once a transaction exists for the request.
type Error struct {
	Code      string
	Message   string
	Reference string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsValidation reports whether code is a caller mistake rather than a provider or system failure.
func IsValidation(code string) bool {
	switch code {
	case CodeUnauthorizedWallet, CodeInvalidAmount, CodeInsufficientFunds, CodeCurrencyMismatch,
		CodeVerificationFailed, CodeWalletNotFound, CodeTransactionNotFound:
		return true
	}
	return false
}
