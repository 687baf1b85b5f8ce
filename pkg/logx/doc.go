// Package logx configures crosspost's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Noisy repeat warnings suppressed (Gate, rate limited per site)
package logx
