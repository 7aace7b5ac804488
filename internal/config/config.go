// =============================================================================
// Collection Aggregator - Configuration Module
// =============================================================================
//
// This module loads the application configuration and builds the logger.
//
// CONFIGURATION SOURCES (later wins):
//   1. Built-in defaults (see Load)
//   2. config.yaml in the working directory, or the file given by --config
//   3. A .env file in the working directory, loaded into the environment
//   4. AGGREGATOR_* environment variables ("engine.max_heap_mb" is read
//      from AGGREGATOR_ENGINE_MAX_HEAP_MB)
//
// ALIAS FILE:
//   engine.aliases_file may point to a YAML file of extra header spellings:
//
//     branch_name: ["unit name", "branch office"]
//     collection:  ["amount received"]
//
// =============================================================================

package config

import (
	"errors"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "AGGREGATOR"

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the full application configuration.
type Config struct {
	// =========================================================================
	// DIRECTORY SETTINGS (batch mode)
	// =========================================================================

	// InputDir is scanned for workbooks by `aggregate` without --file.
	InputDir string `yaml:"input_dir" mapstructure:"input_dir" validate:"required"`

	// OutputDir receives one aggregate per input, plus the summary log.
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir" validate:"required"`

	// InputArchiveDir receives inputs after a successful run when
	// ArchiveInputs is set.
	InputArchiveDir string `yaml:"input_archive_dir" mapstructure:"input_archive_dir"`

	// OutputFileFormat names output files. Placeholders:
	//   {name}      - input file name without extension
	//   {uuid}      - a random UUID
	//   {timestamp} - current time (YYYYMMDD_HHMMSS)
	OutputFileFormat string `yaml:"output_file_format" mapstructure:"output_file_format" validate:"required"`

	// =========================================================================
	// PROCESSING SETTINGS
	// =========================================================================

	// MaxConcurrency is how many files are aggregated at once.
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency" validate:"min=1"`

	// ContinueOnError keeps a batch going after a file fails.
	ContinueOnError bool `yaml:"continue_on_error" mapstructure:"continue_on_error"`

	// ArchiveInputs moves processed inputs to InputArchiveDir.
	ArchiveInputs bool `yaml:"archive_inputs" mapstructure:"archive_inputs"`

	// ArchiveDateSubdirs files archived inputs under YYYY/MM/DD.
	ArchiveDateSubdirs bool `yaml:"archive_date_subdirs" mapstructure:"archive_date_subdirs"`

	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// ServerConfig configures the upload server.
type ServerConfig struct {
	Port        int `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	MaxUploadMB int `yaml:"max_upload_mb" mapstructure:"max_upload_mb" validate:"min=1"`
}

// EngineConfig configures the aggregation engine.
type EngineConfig struct {
	HeaderScanRows   int `yaml:"header_scan_rows" mapstructure:"header_scan_rows" validate:"min=1"`
	MinHeaderMatches int `yaml:"min_header_matches" mapstructure:"min_header_matches" validate:"min=1"`

	// IncludeAccounts is the default for requests that do not say.
	IncludeAccounts bool `yaml:"include_accounts" mapstructure:"include_accounts"`

	// DegradeRowThreshold skips account detail for larger inputs; 0 disables.
	DegradeRowThreshold int `yaml:"degrade_row_threshold" mapstructure:"degrade_row_threshold" validate:"min=0"`

	// MaxDetailRows and MaxHeapMB bound a full-detail pass; 0 is unlimited.
	MaxDetailRows int `yaml:"max_detail_rows" mapstructure:"max_detail_rows" validate:"min=0"`
	MaxHeapMB     int `yaml:"max_heap_mb" mapstructure:"max_heap_mb" validate:"min=0"`

	AliasesFile  string `yaml:"aliases_file" mapstructure:"aliases_file"`
	CSVEncoding  string `yaml:"csv_encoding" mapstructure:"csv_encoding"`
	CSVDelimiter string `yaml:"csv_delimiter" mapstructure:"csv_delimiter"`
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration.
//
// PARAMETERS:
//   - configPath: an explicit config file, or "" to look for config.yaml in
//     the working directory. An explicit file must exist; the implicit one
//     is optional.
//
// RETURNS:
//   - The validated configuration.
//   - An error if a file cannot be read or a value is out of range.
func Load(configPath string) (*Config, error) {
	// .env only fills variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("input_dir", "./input")
	v.SetDefault("output_dir", "./output")
	v.SetDefault("input_archive_dir", "./input_archive")
	v.SetDefault("output_file_format", "{name}_{timestamp}.json")
	v.SetDefault("max_concurrency", 4)
	v.SetDefault("continue_on_error", true)
	v.SetDefault("archive_inputs", false)
	v.SetDefault("archive_date_subdirs", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 100)
	v.SetDefault("engine.header_scan_rows", 10)
	v.SetDefault("engine.min_header_matches", 5)
	v.SetDefault("engine.include_accounts", true)
	v.SetDefault("engine.degrade_row_threshold", 250000)
	v.SetDefault("engine.max_detail_rows", 0)
	v.SetDefault("engine.max_heap_mb", 0)
	v.SetDefault("engine.aliases_file", "")
	v.SetDefault("engine.csv_encoding", "utf-8")
	v.SetDefault("engine.csv_delimiter", ",")

	// Read config file (optional unless explicit)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: validate")
	}

	return &cfg, nil
}

// LoadAliasFile reads extra header aliases keyed by canonical field name.
// Unknown field names are rejected so a typo does not silently do nothing.
func LoadAliasFile(path string) (map[types.Field][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read alias file %s", path)
	}

	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "config: parse alias file %s", path)
	}

	aliases := make(map[types.Field][]string, len(raw))
	for name, list := range raw {
		field := types.Field(name)
		if !field.IsValid() {
			return nil, eris.Errorf("config: alias file %s: unknown field %q", path, name)
		}
		aliases[field] = list
	}
	return aliases, nil
}

// =============================================================================
// LOGGING
// =============================================================================

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
