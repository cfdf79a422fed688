package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomatool/ketchup/internal/placeholder"
)

// Body sources accepted by "with body from" steps
const (
	SourceInline = "inline"
	SourceFile   = "file"
	SourceConfig = "config"
)

// BodyFrom returns the body template named by source. For "inline" value
// is the template itself, for "file" it is a file name under dir and for
// "config" it is a property key.
func BodyFrom(source, value string, cfg placeholder.ConfigLookup, dir string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case SourceInline:
		return value, nil
	case SourceFile:
		name := strings.TrimSpace(value)
		path := name
		if !filepath.IsAbs(name) {
			path = filepath.Join(dir, name)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading body file: %w", err)
		}
		return string(data), nil
	case SourceConfig:
		key := strings.TrimSpace(value)
		body := cfg.Get(key, "")
		if body == "" {
			return "", &placeholder.MissingConfigKeyError{Key: key}
		}
		return body, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedBodySource, source)
	}
}
