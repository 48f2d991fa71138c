package schemas

import (
	"errors"
	"fmt"
)

// ErrorCode is the distinct reason string surfaced to the orchestrator when a
// run terminates or degrades.
type ErrorCode string

const (
	ErrCodeParse           ErrorCode = "PARSE_FAILED"
	ErrCodeVendorDown      ErrorCode = "VENDOR_DOWN"
	ErrCodeMissingIdentity ErrorCode = "MISSING_IDENTITY"
	ErrCodeUnknownAccount  ErrorCode = "UNKNOWN_ACCOUNT"
	ErrCodeAuthTimeout     ErrorCode = "LOGIN_FAILED.TIMEOUT"
	ErrCodeUnknown         ErrorCode = "UNKNOWN_ERROR"
)

// Sentinel errors for each class of the taxonomy. Use errors.Is against these.
var (
	// ErrParse rejects a single bill row. It never aborts a contract.
	ErrParse = errors.New("unparsable bill field")
	// ErrVendorDown is fatal for the current contract.
	ErrVendorDown = errors.New("billing information unavailable")
	// ErrMissingIdentity is recovered locally by falling back to the login.
	ErrMissingIdentity = errors.New("identity fields unavailable")
	// ErrUnknownAccount is fatal: no stable account identifier.
	ErrUnknownAccount = errors.New("account identifier not found")
	// ErrAuthTimeout is fatal once the logout retry budget is spent.
	ErrAuthTimeout = errors.New("authentication timed out")
)

// Ordered by severity so a joined error reports its most severe cause.
var codeBySentinel = []struct {
	err  error
	code ErrorCode
}{
	{ErrAuthTimeout, ErrCodeAuthTimeout},
	{ErrUnknownAccount, ErrCodeUnknownAccount},
	{ErrVendorDown, ErrCodeVendorDown},
	{ErrMissingIdentity, ErrCodeMissingIdentity},
	{ErrParse, ErrCodeParse},
}

// HarvestError attaches a reason code and the failing operation to an error.
type HarvestError struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *HarvestError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *HarvestError) Unwrap() error { return e.Err }

// NewError wraps err with the code derived from its sentinel.
func NewError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &HarvestError{Code: Reason(err), Op: op, Err: err}
}

// Reason returns the reason code of err, or ErrCodeUnknown.
func Reason(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var he *HarvestError
	if errors.As(err, &he) && he.Code != "" && he.Code != ErrCodeUnknown {
		return he.Code
	}
	for _, c := range codeBySentinel {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ErrCodeUnknown
}

// IsFatal reports whether err must terminate the whole run.
func IsFatal(err error) bool {
	switch Reason(err) {
	case ErrCodeParse, ErrCodeMissingIdentity:
		return false
	case "":
		return false
	}
	return true
}
