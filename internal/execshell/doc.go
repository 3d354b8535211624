// Package execshell provides structured helpers for invoking external tools.
//
// ShellExecutor wraps a CommandRunner with logging and lifecycle events,
// OSCommandRunner performs the actual process execution, and CommandLine
// composes sh -c command lines whose dynamic values are single-quote escaped.
package execshell
