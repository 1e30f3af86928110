// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package log

// noop discards every log call; used by tests and by any embedder that
// wants to supply its own observability pipeline.
type noop struct{}

// NewNoOpLogger returns a Logger that discards everything written to it.
func NewNoOpLogger() Logger {
	return noop{}
}

func (noop) With(...interface{}) Logger   { return noop{} }
func (noop) Debug(string, ...interface{}) {}
func (noop) Info(string, ...interface{})  {}
func (noop) Warn(string, ...interface{})  {}
func (noop) Error(string, ...interface{}) {}
func (noop) Crit(string, ...interface{})  {}
