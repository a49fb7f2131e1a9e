// Package logging provides structured logging for doorgate.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the service.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Security
//
// Passwords are never logged. Session tokens are passed through Redact
// so only a short prefix reaches the log:
//
//	logger.Info("token issued", "token_prefix", logging.Redact(token))
package logging
