package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/temirov/cfgsync/internal/configsync"
	"github.com/temirov/cfgsync/internal/utils"
)

const (
	applicationNameConstant                 = "cfgsync"
	applicationShortDescriptionConstant     = "Keep configuration files in sync across many repositories"
	applicationLongDescriptionConstant      = "cfgsync writes a declared set of configuration files into every listed GitHub or Azure DevOps repository and opens one pull request per repository that changed."
	configFileFlagNameConstant              = "config"
	configFileFlagUsageConstant             = "Optional path to a configuration file (YAML or JSON)."
	logLevelFlagNameConstant                = "log-level"
	logLevelFlagUsageConstant               = "Override the configured log level."
	logFormatFlagNameConstant               = "log-format"
	logFormatFlagUsageConstant              = "Override the configured log format (structured or console)."
	versionFlagNameConstant                 = "version"
	versionFlagUsageConstant                = "Print the cfgsync version and exit."
	versionOutputTemplateConstant           = "%s version: %s\n"
	unknownVersionConstant                  = "(devel)"
	commonConfigurationKeyConstant          = "common"
	commonLogLevelConfigKeyConstant         = commonConfigurationKeyConstant + ".log_level"
	commonLogFormatConfigKeyConstant        = commonConfigurationKeyConstant + ".log_format"
	toolsConfigurationKeyConstant           = "tools"
	syncConfigurationKeyConstant            = toolsConfigurationKeyConstant + ".sync"
	environmentPrefixConstant               = "CFGSYNC"
	environmentFileNameConstant             = ".env"
	configurationSearchPathEnvironmentName  = "CFGSYNC_CONFIG_SEARCH_PATH"
	configurationNameConstant               = "config"
	configurationTypeConstant               = "yaml"
	configurationInitializedMessageConstant = "configuration initialized"
	configurationLogLevelFieldConstant      = "log_level"
	configurationLogFormatFieldConstant     = "log_format"
	configurationFileFieldConstant          = "config_file"
	environmentFilesFieldConstant           = "environment_files"
	configurationLoadErrorTemplateConstant  = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant     = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant         = "unable to flush logger: %w"
	unknownCommandErrorTemplateConstant     = "unknown command %q"
	defaultConfigurationSearchPathConstant  = "."
)

// Version is stamped at build time with -ldflags "-X github.com/temirov/cfgsync/cmd/cli.Version=...".
var Version string

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common ApplicationCommonConfiguration `mapstructure:"common"`
	Tools  ApplicationToolsConfiguration  `mapstructure:"tools"`
}

// ApplicationCommonConfiguration stores logging configuration shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// ApplicationToolsConfiguration holds configuration for CLI subcommands.
type ApplicationToolsConfiguration struct {
	Sync configsync.CommandConfiguration `mapstructure:"sync"`
}

// Application wires the Cobra root command, configuration loader, and structured logger.
type Application struct {
	rootCommand           *cobra.Command
	configurationLoader   *utils.ConfigurationLoader
	loggerFactory         *utils.LoggerFactory
	logger                *zap.Logger
	consoleLogger         *zap.Logger
	configuration         ApplicationConfiguration
	configurationMetadata utils.LoadedConfiguration
	configurationFilePath string
	logLevelFlagValue     string
	logFormatFlagValue    string
	versionFlagValue      bool
	versionResolver       func(context.Context) string
	versionOutput         io.Writer
	exitFunction          func(int)
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	searchPaths := []string{defaultConfigurationSearchPathConstant}
	if overridePath := strings.TrimSpace(os.Getenv(configurationSearchPathEnvironmentName)); len(overridePath) > 0 {
		searchPaths = []string{overridePath}
	}
	configurationLoader := utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		searchPaths,
	)
	configurationLoader.SetEmbeddedConfiguration(EmbeddedDefaultConfiguration())
	configurationLoader.SetEnvironmentFiles(environmentFileNameConstant)

	application := &Application{
		configurationLoader: configurationLoader,
		loggerFactory:       utils.NewLoggerFactory(),
		logger:              zap.NewNop(),
		consoleLogger:       zap.NewNop(),
		versionResolver:     resolveBuildVersion,
		exitFunction:        os.Exit,
	}

	cobraCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			if application.versionFlagValue {
				application.printVersion(command)
				return nil
			}
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
	}

	cobraCommand.SetContext(context.Background())
	cobraCommand.PersistentFlags().StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)
	cobraCommand.PersistentFlags().BoolVar(&application.versionFlagValue, versionFlagNameConstant, false, versionFlagUsageConstant)

	syncBuilder := configsync.CommandBuilder{
		LoggerProvider: func() *zap.Logger {
			return application.logger
		},
		ConsoleLoggerProvider: func() *zap.Logger {
			return application.consoleLogger
		},
		HumanReadableLoggingProvider: application.humanReadableLoggingEnabled,
		ConfigurationProvider: func() configsync.CommandConfiguration {
			return application.configuration.Tools.Sync
		},
	}
	syncCommand, syncBuildError := syncBuilder.Build()
	if syncBuildError == nil {
		cobraCommand.AddCommand(syncCommand)
	}

	application.rootCommand = cobraCommand

	return application
}

// Execute runs the configured Cobra command hierarchy and ensures logger flushing.
func (application *Application) Execute() error {
	executionError := application.rootCommand.Execute()
	if syncError := application.flushLogger(); syncError != nil {
		return fmt.Errorf(loggerSyncErrorTemplateConstant, syncError)
	}
	return executionError
}

// InitializeForCommand loads configuration and loggers as if the named subcommand were about to run.
func (application *Application) InitializeForCommand(commandUse string) error {
	targetCommand, _, findError := application.rootCommand.Find([]string{commandUse})
	if findError != nil || targetCommand == nil || targetCommand == application.rootCommand {
		return fmt.Errorf(unknownCommandErrorTemplateConstant, commandUse)
	}
	return application.initializeConfiguration(targetCommand)
}

// Configuration returns the loaded application configuration.
func (application *Application) Configuration() ApplicationConfiguration {
	return application.configuration
}

// Execute builds a fresh application instance and executes the root command hierarchy.
func Execute() error {
	return NewApplication().Execute()
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	defaultValues := map[string]any{
		commonLogLevelConfigKeyConstant:  string(utils.LogLevelInfo),
		commonLogFormatConfigKeyConstant: string(utils.LogFormatStructured),
	}
	for configurationKey, configurationValue := range configsync.DefaultConfigurationValues(syncConfigurationKeyConstant) {
		defaultValues[configurationKey] = configurationValue
	}

	loadedConfiguration, loadError := application.configurationLoader.LoadConfiguration(application.configurationFilePath, defaultValues, &application.configuration)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}

	application.configurationMetadata = loadedConfiguration

	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		application.configuration.Common.LogLevel = application.logLevelFlagValue
	}

	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		application.configuration.Common.LogFormat = application.logFormatFlagValue
	}

	loggerOutputs, loggerCreationError := application.loggerFactory.CreateLoggerOutputs(
		utils.LogLevel(application.configuration.Common.LogLevel),
		utils.LogFormat(application.configuration.Common.LogFormat),
	)
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}

	application.logger = loggerOutputs.DiagnosticLogger
	application.consoleLogger = loggerOutputs.ConsoleLogger

	application.logger.Debug(
		configurationInitializedMessageConstant,
		zap.String(configurationLogLevelFieldConstant, application.configuration.Common.LogLevel),
		zap.String(configurationLogFormatFieldConstant, application.configuration.Common.LogFormat),
		zap.String(configurationFileFieldConstant, application.configurationMetadata.ConfigFileUsed),
		zap.Strings(environmentFilesFieldConstant, application.configurationMetadata.EnvironmentFilesApplied),
	)

	return nil
}

func (application *Application) printVersion(command *cobra.Command) {
	output := application.versionOutput
	if output == nil {
		output = os.Stdout
	}
	executionContext := context.Background()
	if command != nil && command.Context() != nil {
		executionContext = command.Context()
	}
	fmt.Fprintf(output, versionOutputTemplateConstant, applicationNameConstant, application.versionResolver(executionContext))
	application.exitFunction(0)
}

func (application *Application) humanReadableLoggingEnabled() bool {
	logFormatValue := strings.TrimSpace(application.configuration.Common.LogFormat)
	return strings.EqualFold(logFormatValue, string(utils.LogFormatConsole))
}

// flushLogger syncs both loggers. Terminals and pipes reject fsync with
// ENOTSUP, EINVAL or ENOTTY; those are not reported.
func (application *Application) flushLogger() error {
	for _, logger := range []*zap.Logger{application.logger, application.consoleLogger} {
		if logger == nil {
			continue
		}
		if syncError := logger.Sync(); syncError != nil && !ignorableSyncError(syncError) {
			return syncError
		}
	}
	return nil
}

var ignorableSyncErrors = []error{syscall.ENOTSUP, syscall.EINVAL, syscall.ENOTTY}

func ignorableSyncError(syncError error) bool {
	for _, ignorable := range ignorableSyncErrors {
		if errors.Is(syncError, ignorable) {
			return true
		}
	}
	return false
}

// persistentFlagChanged reports whether a root persistent flag was set on the
// command line, whether or not cobra has merged it into the subcommand yet.
func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}
	for _, flagSet := range []*pflag.FlagSet{command.Flags(), command.InheritedFlags(), command.Root().PersistentFlags()} {
		if flagSet != nil && flagSet.Changed(flagName) {
			return true
		}
	}
	return false
}

// resolveBuildVersion prefers the stamped Version, then the module version recorded by the Go toolchain.
func resolveBuildVersion(context.Context) string {
	if trimmedVersion := strings.TrimSpace(Version); len(trimmedVersion) > 0 {
		return trimmedVersion
	}
	buildInformation, available := debug.ReadBuildInfo()
	if !available || len(buildInformation.Main.Version) == 0 {
		return unknownVersionConstant
	}
	return buildInformation.Main.Version
}
