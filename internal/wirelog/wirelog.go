// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

// Package wirelog adapts log/slog into the Errorf/Debugf/Infof shape
// the wire-protocol channel in internal/driver/xen uses for logging
// individual frames and requests, so it can be handed the same logger
// the rest of the instance uses.
package wirelog

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/go-vmi/vmi/internal/debuglog"
)

// Logger is the minimal logging shape wire clients call through.
type Logger struct {
	logger *slog.Logger
}

// New wraps logger. A nil logger is turned into a discarding one.
func New(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Logger{logger: logger}
}

// Errorf logs a wire-level failure (connection drop, malformed frame).
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// Debugf logs individual frame sends/receives at trace level: too
// noisy for Debug, but useful when diagnosing a wire protocol.
func (l *Logger) Debugf(format string, args ...interface{}) {
	debuglog.Trace(l.logger, fmt.Sprintf(format, args...))
}

// Infof logs connection lifecycle events (dial, handshake, reconnect).
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}
