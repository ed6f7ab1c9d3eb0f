// Package logx configures cronkeeper's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional alert sink that forwards warn+ lines to a chat (min-level + rate limiting)
package logx
