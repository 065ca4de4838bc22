package logx

// Package logx wraps zerolog behind a small structured-logging API.
//
// It provides:
//   - A Logger value type with With()/field helpers
//   - A Service that can re-apply sink/level config at runtime
