// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

// Package debuglog carries the diagnostic text stream from spec.md §6
// ("diagnostic text emitted to a debug stream guarded by a compile-time
// flag, not part of the contract") and §7. Rather than a global stream
// toggled by a build tag, diagnostics are routed through a session-
// scoped callback, avoiding the package-level mutable state a global
// stream would otherwise require (Design Note §9, "Global/process
// state").
package debuglog

import (
	"context"
	"fmt"
	"log/slog"
)

// LevelTrace is a synthesized level beneath slog's Debug, matching the
// original library's debug stream having a tier finer than "debug".
// log/slog does not implement trace logging by default, but is
// flexible enough to add one.
const LevelTrace = slog.Level(-8)

// Trace sends trace-level logging to l.
func Trace(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelTrace, msg, args...)
}

// Sink receives one formatted diagnostic line per call. A nil Sink
// discards everything; Emit is always safe to call.
type Sink func(line string)

// Emit formats msg with args and sends it to sink, if non-nil.
func Emit(sink Sink, msg string, args ...interface{}) {
	if sink == nil {
		return
	}

	sink(fmt.Sprintf(msg, args...))
}

// FromLogger adapts a *slog.Logger into a Sink at trace level, for
// callers that want debug text to land in the structured log stream
// rather than a bespoke callback.
func FromLogger(l *slog.Logger) Sink {
	return func(line string) {
		Trace(l, line)
	}
}
