package utils

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	environmentKeySeparatorOldConstant              = "."
	environmentKeySeparatorNewConstant              = "_"
	configurationReadErrorTemplateConstant          = "failed to read configuration: %w"
	configurationUnmarshalErrorTemplateConstant     = "failed to parse configuration: %w"
	embeddedConfigurationMergeErrorTemplateConstant = "failed to merge embedded configuration: %w"
	environmentFileErrorTemplateConstant            = "failed to load environment file %s: %w"
)

// ConfigurationLoader layers embedded defaults, a configuration file, .env files and
// prefixed environment variables into one decoded configuration.
type ConfigurationLoader struct {
	configurationName         string
	configurationType         string
	environmentPrefix         string
	searchPaths               []string
	environmentFiles          []string
	embeddedConfiguration     []byte
	embeddedConfigurationType string
}

// LoadedConfiguration surfaces metadata about the resolved configuration.
type LoadedConfiguration struct {
	ConfigFileUsed          string
	EnvironmentFilesApplied []string
}

// NewConfigurationLoader creates a loader that searches known paths and respects an environment prefix.
func NewConfigurationLoader(configurationName string, configurationType string, environmentPrefix string, searchPaths []string) *ConfigurationLoader {
	return &ConfigurationLoader{
		configurationName: configurationName,
		configurationType: configurationType,
		environmentPrefix: environmentPrefix,
		searchPaths:       append([]string{}, searchPaths...),
	}
}

// SetEmbeddedConfiguration stores configuration merged before any user-provided file.
func (loader *ConfigurationLoader) SetEmbeddedConfiguration(configurationData []byte, configurationType string) {
	if loader == nil {
		return
	}
	loader.embeddedConfiguration = append([]byte(nil), configurationData...)
	loader.embeddedConfigurationType = strings.TrimSpace(configurationType)
}

// SetEnvironmentFiles names dotenv files loaded into the process environment before
// configuration is resolved. Missing files are skipped and variables already set win.
func (loader *ConfigurationLoader) SetEnvironmentFiles(environmentFiles ...string) {
	if loader == nil {
		return
	}
	loader.environmentFiles = append([]string{}, environmentFiles...)
}

// LoadConfiguration populates targetConfiguration. Precedence from lowest to highest:
// defaults, embedded configuration, configuration file, environment variables.
func (loader *ConfigurationLoader) LoadConfiguration(configurationFilePath string, defaultValues map[string]any, targetConfiguration any) (LoadedConfiguration, error) {
	appliedEnvironmentFiles, environmentError := loader.applyEnvironmentFiles()
	if environmentError != nil {
		return LoadedConfiguration{}, environmentError
	}

	viperInstance := viper.New()
	viperInstance.SetConfigName(loader.configurationName)
	viperInstance.SetConfigType(loader.configurationType)
	for defaultKey, defaultValue := range defaultValues {
		viperInstance.SetDefault(defaultKey, defaultValue)
	}

	if len(loader.embeddedConfiguration) > 0 {
		embeddedType := loader.configurationType
		if len(loader.embeddedConfigurationType) > 0 {
			embeddedType = loader.embeddedConfigurationType
		}
		viperInstance.SetConfigType(embeddedType)
		if mergeError := viperInstance.MergeConfig(bytes.NewReader(loader.embeddedConfiguration)); mergeError != nil {
			return LoadedConfiguration{}, fmt.Errorf(embeddedConfigurationMergeErrorTemplateConstant, mergeError)
		}
		viperInstance.SetConfigType(loader.configurationType)
	}

	for _, searchPath := range loader.searchPaths {
		viperInstance.AddConfigPath(searchPath)
	}
	if len(configurationFilePath) > 0 {
		viperInstance.SetConfigFile(configurationFilePath)
	}

	viperInstance.SetEnvPrefix(loader.environmentPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(environmentKeySeparatorOldConstant, environmentKeySeparatorNewConstant))
	viperInstance.AutomaticEnv()

	if readError := viperInstance.MergeInConfig(); readError != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readError, &notFound) {
			return LoadedConfiguration{}, fmt.Errorf(configurationReadErrorTemplateConstant, readError)
		}
	}

	if unmarshalError := viperInstance.Unmarshal(targetConfiguration); unmarshalError != nil {
		return LoadedConfiguration{}, fmt.Errorf(configurationUnmarshalErrorTemplateConstant, unmarshalError)
	}

	return LoadedConfiguration{
		ConfigFileUsed:          viperInstance.ConfigFileUsed(),
		EnvironmentFilesApplied: appliedEnvironmentFiles,
	}, nil
}

func (loader *ConfigurationLoader) applyEnvironmentFiles() ([]string, error) {
	appliedFiles := make([]string, 0, len(loader.environmentFiles))
	for _, environmentFile := range loader.environmentFiles {
		if _, statError := os.Stat(environmentFile); statError != nil {
			if errors.Is(statError, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf(environmentFileErrorTemplateConstant, environmentFile, statError)
		}
		if loadError := godotenv.Load(environmentFile); loadError != nil {
			return nil, fmt.Errorf(environmentFileErrorTemplateConstant, environmentFile, loadError)
		}
		appliedFiles = append(appliedFiles, environmentFile)
	}
	return appliedFiles, nil
}
