// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "bracket-trader", "logs", "trader.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					case "fatal":
						return "\033[1;31mFTL\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File && cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(writer).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ParseLevel maps a config string onto a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithGroupID adds a bracket group ID to the logger context.
func WithGroupID(logger zerolog.Logger, groupID string) zerolog.Logger {
	return logger.With().Str("group_id", groupID).Logger()
}

// WithOrderID adds a broker order ID to the logger context.
func WithOrderID(logger zerolog.Logger, orderID string) zerolog.Logger {
	return logger.With().Str("order_id", orderID).Logger()
}

// WithOperation adds an operation name to the logger context.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogBracket logs a bracket lifecycle event.
func LogBracket(logger zerolog.Logger, event, groupID, symbol, status string, qty int64, entry, stop, target float64) {
	logger.Info().
		Str("event", event).
		Str("group_id", groupID).
		Str("symbol", symbol).
		Str("lifecycle_status", status).
		Int64("quantity", qty).
		Float64("entry_price", entry).
		Float64("stop_loss_price", stop).
		Float64("take_profit_price", target).
		Msg("Bracket order update")
}

// LogFill logs a confirmed fill.
func LogFill(logger zerolog.Logger, groupID, symbol, side string, qty int64, price float64, simulated bool) {
	logger.Info().
		Str("event", "fill").
		Str("group_id", groupID).
		Str("symbol", symbol).
		Str("side", side).
		Int64("quantity", qty).
		Float64("price", price).
		Bool("simulated", simulated).
		Msg("Entry filled")
}

// LogBreach logs a risk limit breach at the highest non-fatal level.
func LogBreach(logger zerolog.Logger, window string, lossPct, limitPct, pnl float64) {
	logger.WithLevel(zerolog.FatalLevel).
		Str("event", "risk_breach").
		Str("window", window).
		Float64("loss_percent", lossPct).
		Float64("limit_percent", limitPct).
		Float64("pnl", pnl).
		Msg("Loss limit breached, trading halted")
}

// LogQuote logs the quote selected for a symbol.
func LogQuote(logger zerolog.Logger, symbol, provider string, price float64, candidates int) {
	logger.Debug().
		Str("event", "quote").
		Str("symbol", symbol).
		Str("provider", provider).
		Float64("price", price).
		Int("candidates", candidates).
		Msg("Quote selected")
}

// LogAPICall logs a broker or provider call.
func LogAPICall(logger zerolog.Logger, method, endpoint string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("API call failed")
	} else {
		event.Msg("API call completed")
	}
}
