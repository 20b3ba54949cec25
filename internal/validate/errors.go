// errors.go defines sentinel errors for validation failures.
//
// Sentinel errors (not error types) because validation failures don't carry
// additional context beyond the category. Detailed messages are provided by
// wrapping these with fmt.Errorf in the validation functions.

package validate

import "errors"

var (
	ErrInvalidPath     = errors.New("invalid path")
	ErrPathTooLong     = errors.New("path too long")
	ErrContentTooLarge = errors.New("content too large")
	ErrNegative        = errors.New("value must not be negative")
)
