package execshell

import (
	"fmt"
	"strings"
)

const (
	singleQuoteConstant                  = "'"
	escapedSingleQuoteConstant           = `'\''`
	nullByteConstant                     = "\x00"
	commandLineSeparatorConstant         = " "
	nullByteArgumentErrorTemplate        = "shell argument %q contains a null byte"
	emptyCommandLineProgramMessage       = "command line program must be provided"
	nullByteArgumentDisplayLimitConstant = 32
)

// NullByteArgumentError reports an argument that cannot be represented inside a shell word.
type NullByteArgumentError struct {
	Value string
}

// Error describes the rejected argument.
func (argumentError NullByteArgumentError) Error() string {
	displayValue := strings.ReplaceAll(argumentError.Value, nullByteConstant, `\0`)
	if len(displayValue) > nullByteArgumentDisplayLimitConstant {
		displayValue = displayValue[:nullByteArgumentDisplayLimitConstant]
	}
	return fmt.Sprintf(nullByteArgumentErrorTemplate, displayValue)
}

// EscapeShellArgument wraps value in single quotes so a POSIX shell reads it back as exactly one word.
// Embedded single quotes become '\'' and values containing a null byte are rejected.
func EscapeShellArgument(value string) (string, error) {
	if strings.Contains(value, nullByteConstant) {
		return "", NullByteArgumentError{Value: value}
	}
	return singleQuoteConstant + strings.ReplaceAll(value, singleQuoteConstant, escapedSingleQuoteConstant) + singleQuoteConstant, nil
}

// CommandLine composes a shell command from trusted literals and escaped dynamic values.
// The first escaping failure is retained and reported by Build.
type CommandLine struct {
	parts      []string
	buildError error
}

// NewCommandLine starts a command line with a program name and optional literal tokens.
func NewCommandLine(program string, literals ...string) *CommandLine {
	commandLine := &CommandLine{}
	if len(strings.TrimSpace(program)) == 0 {
		commandLine.buildError = fmt.Errorf("%s", emptyCommandLineProgramMessage)
		return commandLine
	}
	commandLine.parts = append(commandLine.parts, program)
	commandLine.parts = append(commandLine.parts, literals...)
	return commandLine
}

// Literal appends tokens that are compile-time constants of the caller.
func (commandLine *CommandLine) Literal(literals ...string) *CommandLine {
	commandLine.parts = append(commandLine.parts, literals...)
	return commandLine
}

// Argument appends a dynamic value after escaping it.
func (commandLine *CommandLine) Argument(value string) *CommandLine {
	if commandLine.buildError != nil {
		return commandLine
	}
	escapedValue, escapeError := EscapeShellArgument(value)
	if escapeError != nil {
		commandLine.buildError = escapeError
		return commandLine
	}
	commandLine.parts = append(commandLine.parts, escapedValue)
	return commandLine
}

// Option appends a literal flag followed by its escaped dynamic value.
func (commandLine *CommandLine) Option(flag string, value string) *CommandLine {
	commandLine.parts = append(commandLine.parts, flag)
	return commandLine.Argument(value)
}

// Build returns the composed command line or the first escaping error.
func (commandLine *CommandLine) Build() (string, error) {
	if commandLine.buildError != nil {
		return "", commandLine.buildError
	}
	return strings.Join(commandLine.parts, commandLineSeparatorConstant), nil
}
