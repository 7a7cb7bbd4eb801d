// Package logx provides the bot's structured logging: a zerolog-backed
// Logger with slog-like field ergonomics and a Service that hot-swaps
// sinks (console, file, telegram log chat) on config reload.
package logx
