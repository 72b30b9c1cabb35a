package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Input          InputConfig          `yaml:"input" mapstructure:"input"`
	Output         OutputConfig         `yaml:"output" mapstructure:"output"`
	Registry       RegistryConfig       `yaml:"registry" mapstructure:"registry"`
	Heritage       HeritageConfig       `yaml:"heritage" mapstructure:"heritage"`
	Cadastre       CadastreConfig       `yaml:"cadastre" mapstructure:"cadastre"`
	ProtectedAreas ProtectedAreasConfig `yaml:"protected_areas" mapstructure:"protected_areas"`
	Pipeline       PipelineConfig       `yaml:"pipeline" mapstructure:"pipeline"`
	Store          StoreConfig          `yaml:"store" mapstructure:"store"`
	Log            LogConfig            `yaml:"log" mapstructure:"log"`
}

// InputConfig describes the source CSV.
type InputConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	IDColumn string `yaml:"id_column" mapstructure:"id_column"`
}

// OutputConfig describes the enriched output CSV.
type OutputConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// RegistryConfig configures the buildings/units registry API
// (BAG Individuele Bevragingen). The API key is required for the
// fallback-resolution path.
type RegistryConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	CRS     string `yaml:"crs" mapstructure:"crs"`
}

// HeritageConfig configures the cultural-heritage SPARQL endpoint
// (monuments and protected-site polygons).
type HeritageConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// CadastreConfig configures the cadastre SPARQL endpoint (unit geometries).
type CadastreConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// ProtectedAreasConfig selects the protected-area polygon source.
// When Shapefile is set, polygons are loaded from disk instead of the
// heritage endpoint.
type ProtectedAreasConfig struct {
	Shapefile string `yaml:"shapefile" mapstructure:"shapefile"`
	NameField string `yaml:"name_field" mapstructure:"name_field"`
}

// PipelineConfig configures batching and backpressure.
type PipelineConfig struct {
	BatchSize  int `yaml:"batch_size" mapstructure:"batch_size"`
	QueueDepth int `yaml:"queue_depth" mapstructure:"queue_depth"`
}

// StoreConfig configures the run audit store. Empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HERITAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("input.id_column", "unit_id")
	v.SetDefault("output.path", "enriched.csv")
	v.SetDefault("registry.base_url", "https://api.bag.kadaster.nl/lvbag/individuelebevragingen/v2")
	v.SetDefault("registry.crs", "epsg:28992")
	v.SetDefault("heritage.endpoint", "https://api.linkeddata.cultureelerfgoed.nl/datasets/rce/cho/sparql")
	v.SetDefault("cadastre.endpoint", "https://api.labs.kadaster.nl/datasets/dst/kkg/services/default/sparql")
	v.SetDefault("protected_areas.name_field", "NAME")
	v.SetDefault("pipeline.batch_size", 500)
	v.SetDefault("pipeline.queue_depth", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable for an enrichment run.
// It collects all problems instead of stopping at the first one.
func (c *Config) Validate() error {
	var problems []string

	if c.Input.Path == "" {
		problems = append(problems, "input.path is required")
	}
	if c.Input.IDColumn == "" {
		problems = append(problems, "input.id_column is required")
	}
	if c.Output.Path == "" {
		problems = append(problems, "output.path is required")
	}
	if c.Registry.APIKey == "" {
		problems = append(problems, "registry.api_key is required (fallback resolution)")
	}
	if c.Pipeline.BatchSize < 1 || c.Pipeline.BatchSize > 10000 {
		problems = append(problems, "pipeline.batch_size must be between 1 and 10000")
	}
	if c.Pipeline.QueueDepth < 1 {
		problems = append(problems, "pipeline.queue_depth must be >= 1")
	}
	if c.ProtectedAreas.Shapefile != "" && c.ProtectedAreas.NameField == "" {
		problems = append(problems, "protected_areas.name_field is required when a shapefile is used")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

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
