package log

import (
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

var (
	_testingLoggerMutex sync.Mutex
	_testingLogger      Logger
)

// TestingLogger returns a Logger that writes to stdout when tests are run
// verbosely (go test -v), and discards everything otherwise.
//
// TestingLogger must be called from inside a test, not from an init func,
// since the verbose flag is only set once testing has started.
func TestingLogger() Logger {
	_testingLoggerMutex.Lock()
	defer _testingLoggerMutex.Unlock()
	if _testingLogger != nil {
		return _testingLogger
	}

	if testing.Verbose() {
		zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true}).With().Timestamp().Logger()
		_testingLogger = &defaultLogger{Logger: zl}
	} else {
		_testingLogger = NewNopLogger()
	}

	return _testingLogger
}
