// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with console or JSON encoding,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level parsing and configuration from textual settings,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Host and node components accept a context and extract the logger from it,
// so every session goroutine logs with its peer identity attached.
package logger
