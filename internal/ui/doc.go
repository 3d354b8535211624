// Package ui renders external command lifecycle events as concise console
// messages while detailed telemetry keeps flowing through structured loggers.
package ui
