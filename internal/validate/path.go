package validate

import (
	"fmt"
	"path"
	"strings"
)

// Path validates a resource path and returns its clean, slash-separated form.
//
// Validation rules:
//   - Empty paths rejected
//   - Null bytes rejected
//   - Max length enforced if maxLen > 0
//   - Absolute paths (leading slash or drive letter) rejected
//   - Any ".." component rejected, even one that would clean away
func Path(p string, maxLen int) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: null byte in path", ErrInvalidPath)
	}
	if maxLen > 0 && len(p) > maxLen {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrPathTooLong, len(p), maxLen)
	}

	slashed := strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(slashed, "/") || (len(slashed) >= 3 && slashed[1] == ':' && slashed[2] == '/') {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q leaves the served directory", ErrInvalidPath, p)
		}
	}

	clean := path.Clean(slashed)
	if clean == "." {
		return "", fmt.Errorf("%w: %q names no resource", ErrInvalidPath, p)
	}
	return clean, nil
}

// Prefix validates an optional listing prefix: empty is allowed, anything
// else must be a valid path. A trailing slash is kept.
func Prefix(p string, maxLen int) (string, error) {
	if p == "" {
		return "", nil
	}
	clean, err := Path(p, maxLen)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(p, "/") {
		clean += "/"
	}
	return clean, nil
}
