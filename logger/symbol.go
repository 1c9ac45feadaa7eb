package logger

import (
	"go.uber.org/zap"

	"github.com/teranos/weir/sym"
)

// Instance logger wrappers.
// These tag an instance logger with a symbol field instead of putting the
// glyph into the message, which keeps logs queryable by symbol.
//
// Usage:
//
//	g.log = logger.AddTransSymbol(base).With(logger.FieldGraph, g.name)

// WithSymbol returns l tagged with the given symbol.
func WithSymbol(l *zap.SugaredLogger, symbol string) *zap.SugaredLogger {
	return Or(l).With(FieldSymbol, symbol)
}

// AddTransSymbol wraps a logger with the Trans symbol (⇶)
func AddTransSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.Trans)
}

// AddJobSymbol wraps a logger with the Job symbol (⟶)
func AddJobSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.Job)
}

// AddNestedSymbol wraps a logger with the Nested symbol (⌗)
func AddNestedSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.Nested)
}

// AddHookSymbol wraps a logger with the Hook symbol (⌁)
func AddHookSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.Hook)
}

// AddDBSymbol wraps a logger with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.DB)
}

// AddHistorySymbol wraps a logger with the History symbol (✦)
func AddHistorySymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.History)
}
