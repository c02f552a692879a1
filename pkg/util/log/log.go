package log

import (
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// Logger is a shared go-kit logger. It defaults to a no-op so package
// code can log unconditionally; InitLogger replaces it at startup.
var Logger = kitlog.NewNopLogger()

// InitLogger initialises the global gokit logger (json or logfmt on
// stderr, leveled, UTC timestamps) and returns that logger.
func InitLogger(format, logLevel string) (kitlog.Logger, error) {
	var lvl dslog.Level
	if err := lvl.Set(logLevel); err != nil {
		return nil, err
	}

	writer := kitlog.NewSyncWriter(os.Stderr)
	logger := dslog.NewGoKitWithWriter(format, writer)
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)

	// Must put the level filter last for efficiency.
	logger = level.NewFilter(logger, lvl.Option)

	Logger = logger
	return logger, nil
}
