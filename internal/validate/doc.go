// Package validate checks request arguments at the façade boundary.
//
// Validation is minimal. It rejects clearly dangerous inputs (null bytes,
// absolute paths, traversal, excessive sizes, negative positions) and leaves
// everything else to the components, which report their own errors.
//
// All validation errors wrap one of the sentinel errors defined in errors.go.
// Use errors.Is() for type-safe error checking:
//
//	if errors.Is(err, validate.ErrInvalidPath) {
//	    // handle invalid path
//	}
package validate
