// Package logging configures the log/slog loggers used across gqlproxy.
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatJSON,
//	})
//
//	logger.Info("operation registry built", "operations", 42)
//
// Setup builds the same logger from string options and can additionally
// ship records to Loki:
//
//	logger, flush := logging.Setup(logging.Options{
//	    Level: "debug",
//	    Loki:  "http://localhost:3100/loki/api/v1/push",
//	}, os.Stderr)
//	defer flush()
//
// # Levels
//
// Debug logs one line per registered operation and per HTTP request. Info
// covers lifecycle events and hook changes. Error is reserved for failed
// calls answered with a 5xx status.
//
// # Integration
//
// Components accept a *slog.Logger in their Options. If none is provided
// they use Nop.
package logging
