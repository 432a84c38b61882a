// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

// Package version contains the build-time identifiers vmi-cli's version
// command reports. Tag and SHA are set via -ldflags '-X' at build time;
// their fallback values here are what a `go install` without ldflags
// reports.
package version

import (
	"runtime/debug"
	"strings"
)

var (
	// Tag declares the project's git tag, overridden via -ldflags.
	Tag = "dev"
	// SHA declares the project's git commit SHA, overridden via -ldflags.
	SHA = "unknown"
	// Name declares project name.
	Name = func() string {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			panic("cannot read build info, something is very wrong")
		}

		// Check if this is a go-vmi project.
		prefix := "github.com/go-vmi/"
		if strings.HasPrefix(info.Path, prefix) {
			tail := info.Path[len(prefix):]

			before, _, found := strings.Cut(tail, "/")
			if found {
				return before
			}
		}

		// We could return a proper full path here, but it could be seen as a privacy violation.
		return "community-project"
	}()
)
