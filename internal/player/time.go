// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package player

import (
	"fmt"
	"math"
)

// TicksPerMillisecond is the number of .NET ticks (100ns) in a millisecond.
const TicksPerMillisecond = 10_000

// TicksToMs converts .NET ticks to milliseconds, rounding half away from zero.
func TicksToMs(ticks int64) int64 {
	return int64(math.Round(float64(ticks) / TicksPerMillisecond))
}

// MsToTicks converts milliseconds to .NET ticks.
func MsToTicks(ms float64) int64 {
	return int64(math.Round(ms * TicksPerMillisecond))
}

// FormatTicks formats a tick count like FormatTime.
func FormatTicks(ticks int64) string {
	return FormatTime(float64(TicksToMs(ticks)) / 1000)
}

// FormatTime renders seconds as H:MM:SS, or M:SS under an hour.
// Fractional seconds are truncated.
func FormatTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(math.Floor(seconds))
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}
