package logging

import (
	"context"
)

type contextKey string

const loggerKey contextKey = "logger"

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// PatternContext creates a logger context for pattern mining
func PatternContext(patternType, patternName string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"pattern_type": patternType,
		"pattern_name": patternName,
	}).WithComponent("patterns")
}

// AlertContext creates a logger context for crisis alerts
func AlertContext(alertID string, level int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"alert_id":    alertID,
		"alert_level": level,
	}).WithComponent("blackswan")
}

// StrategyContext creates a logger context for strategy evaluation
func StrategyContext(strategyID string) *Logger {
	return Default().WithField("strategy_id", strategyID).WithComponent("optimizer")
}
