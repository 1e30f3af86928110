// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import "go.uber.org/zap"

// zapLogger adapts *zap.SugaredLogger to the Logger interface. Production
// nodes construct one with NewZap; tests use NewNoOpLogger instead.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZap wraps a *zap.Logger as a Logger.
func NewZap(base *zap.Logger) Logger {
	return zapLogger{s: base.Sugar()}
}

// NewProduction builds a Logger backed by zap's production configuration
// (JSON encoding, info level and above).
func NewProduction() (Logger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZap(base), nil
}

func (l zapLogger) With(keyvals ...interface{}) Logger {
	return zapLogger{s: l.s.With(keyvals...)}
}

func (l zapLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l zapLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l zapLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l zapLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
func (l zapLogger) Crit(msg string, keyvals ...interface{})  { l.s.Errorw("CRIT: "+msg, keyvals...) }
