// Package input expands flag values that name stdin (-) or a file (@path).
package input

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// ExpandValue returns v with the - and @file forms replaced by the content
// they name. Trailing newlines are trimmed. Any other value is returned as is.
func ExpandValue(v string, stdin io.Reader) (string, error) {
	switch {
	case v == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	case strings.HasPrefix(v, "@") && len(v) > 1:
		path := strings.TrimPrefix(v, "@")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	return v, nil
}
