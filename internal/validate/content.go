// content.go implements size and position checks for operation arguments.

package validate

import "fmt"

// Content validates the size of text carried by one operation.
// Max length is enforced if maxLen > 0 (0 means no limit).
func Content(content string, maxLen int64) error {
	if maxLen > 0 && int64(len(content)) > maxLen {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrContentTooLarge, len(content), maxLen)
	}
	return nil
}

// NonNegative rejects negative positions, lengths and indexes.
func NonNegative(name string, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %s is %d", ErrNegative, name, n)
	}
	return nil
}
