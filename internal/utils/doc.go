// Package utils holds the configuration loader and logger factory shared by
// the cfgsync entrypoint.
//
// ConfigurationLoader layers defaults, the embedded configuration, an optional
// file, dotenv files and CFGSYNC_* environment variables through Viper.
// LoggerFactory builds the zap diagnostic and console loggers.
package utils
