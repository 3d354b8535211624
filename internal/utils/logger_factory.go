package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logLevelDebugStringConstant          = "debug"
	logLevelInfoStringConstant           = "info"
	logLevelWarnStringConstant           = "warn"
	logLevelErrorStringConstant          = "error"
	logFormatStructuredStringConstant    = "structured"
	logFormatConsoleStringConstant       = "console"
	jsonZapEncodingStringConstant        = "json"
	consoleZapEncodingStringConstant     = "console"
	standardErrorOutputPathConstant      = "stderr"
	unsupportedLogLevelTemplateConstant  = "unsupported log level: %s"
	unsupportedLogFormatTemplateConstant = "unsupported log format: %s"
)

// LogLevel enumerates supported logging granularities.
type LogLevel string

// Exported log level constants for reuse across packages.
const (
	LogLevelDebug LogLevel = LogLevel(logLevelDebugStringConstant)
	LogLevelInfo  LogLevel = LogLevel(logLevelInfoStringConstant)
	LogLevelWarn  LogLevel = LogLevel(logLevelWarnStringConstant)
	LogLevelError LogLevel = LogLevel(logLevelErrorStringConstant)
)

// LogFormat enumerates supported logger output encodings.
type LogFormat string

// Exported log format constants for reuse across packages.
const (
	LogFormatStructured LogFormat = LogFormat(logFormatStructuredStringConstant)
	LogFormatConsole    LogFormat = LogFormat(logFormatConsoleStringConstant)
)

var logLevelMapping = map[LogLevel]zapcore.Level{
	LogLevelDebug: zapcore.DebugLevel,
	LogLevelInfo:  zapcore.InfoLevel,
	LogLevelWarn:  zapcore.WarnLevel,
	LogLevelError: zapcore.ErrorLevel,
}

var logFormatEncodingMapping = map[LogFormat]string{
	LogFormatStructured: jsonZapEncodingStringConstant,
	LogFormatConsole:    consoleZapEncodingStringConstant,
}

// LoggerOutputs pairs the diagnostic logger with the logger used for command
// lifecycle events. Both write to standard error so standard output stays
// reserved for the run summary.
type LoggerOutputs struct {
	DiagnosticLogger *zap.Logger
	ConsoleLogger    *zap.Logger
}

// LoggerFactory builds zap.Logger instances with consistent configuration.
type LoggerFactory struct{}

// NewLoggerFactory constructs a new logger factory.
func NewLoggerFactory() *LoggerFactory {
	return &LoggerFactory{}
}

// CreateLogger produces a zap.Logger honoring the requested log level and format.
// Sampling is disabled: per-repository step messages repeat across a run and must all be kept.
func (factory *LoggerFactory) CreateLogger(requestedLogLevel LogLevel, requestedLogFormat LogFormat) (*zap.Logger, error) {
	zapLogLevel, encoding, resolveError := resolveLoggerSettings(requestedLogLevel, requestedLogFormat)
	if resolveError != nil {
		return nil, resolveError
	}

	configuration := zap.NewProductionConfig()
	configuration.Level = zap.NewAtomicLevelAt(zapLogLevel)
	configuration.Encoding = encoding
	configuration.Sampling = nil
	configuration.OutputPaths = []string{standardErrorOutputPathConstant}
	configuration.ErrorOutputPaths = []string{standardErrorOutputPathConstant}
	if encoding == consoleZapEncodingStringConstant {
		configuration.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		configuration.DisableStacktrace = true
		configuration.DisableCaller = true
	}

	return configuration.Build()
}

// CreateLoggerOutputs builds the diagnostic logger and a console logger without
// timestamps or levels for command events.
func (factory *LoggerFactory) CreateLoggerOutputs(requestedLogLevel LogLevel, requestedLogFormat LogFormat) (LoggerOutputs, error) {
	diagnosticLogger, diagnosticError := factory.CreateLogger(requestedLogLevel, requestedLogFormat)
	if diagnosticError != nil {
		return LoggerOutputs{}, diagnosticError
	}

	zapLogLevel, _, _ := resolveLoggerSettings(requestedLogLevel, requestedLogFormat)
	consoleConfiguration := zap.NewDevelopmentConfig()
	consoleConfiguration.Level = zap.NewAtomicLevelAt(zapLogLevel)
	consoleConfiguration.Encoding = consoleZapEncodingStringConstant
	consoleConfiguration.DisableCaller = true
	consoleConfiguration.DisableStacktrace = true
	consoleConfiguration.EncoderConfig.TimeKey = ""
	consoleConfiguration.EncoderConfig.LevelKey = ""
	consoleConfiguration.EncoderConfig.NameKey = ""
	consoleConfiguration.OutputPaths = []string{standardErrorOutputPathConstant}
	consoleConfiguration.ErrorOutputPaths = []string{standardErrorOutputPathConstant}

	consoleLogger, consoleError := consoleConfiguration.Build()
	if consoleError != nil {
		return LoggerOutputs{}, consoleError
	}
	return LoggerOutputs{DiagnosticLogger: diagnosticLogger, ConsoleLogger: consoleLogger}, nil
}

func resolveLoggerSettings(requestedLogLevel LogLevel, requestedLogFormat LogFormat) (zapcore.Level, string, error) {
	zapLogLevel, levelExists := logLevelMapping[LogLevel(strings.ToLower(strings.TrimSpace(string(requestedLogLevel))))]
	if !levelExists {
		return zapcore.InfoLevel, "", fmt.Errorf(unsupportedLogLevelTemplateConstant, requestedLogLevel)
	}
	encoding, formatExists := logFormatEncodingMapping[LogFormat(strings.ToLower(strings.TrimSpace(string(requestedLogFormat))))]
	if !formatExists {
		return zapcore.InfoLevel, "", fmt.Errorf(unsupportedLogFormatTemplateConstant, requestedLogFormat)
	}
	return zapLogLevel, encoding, nil
}
