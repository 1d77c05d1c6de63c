package log

import (
	"errors"
	"fmt"
)

// ErrLogOutputRequired is returned when --log-output is empty.
var ErrLogOutputRequired = errors.New("a log output is required: stdout, stderr or a file path")

// FormatError names a --log-format value logrus has no formatter for.
type FormatError struct {
	Format string
}

func (e FormatError) Error() string {
	return fmt.Sprintf("unknown log format %q, expected %s or %s", e.Format, formatText, formatJSON)
}
