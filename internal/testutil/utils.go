package testutil

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
)

// TestLogger returns a console logger for tests. Output goes to stdout
// rather than t.Log so late goroutine writes cannot trip the testing
// framework.
func TestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
}
