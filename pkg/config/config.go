package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "FALCON"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// DatabaseFile is the fixed name of the catalog database inside the data dir.
const DatabaseFile = "catalog.db"

// ImageSubdir is the fixed subdirectory of the data dir holding cached blobs.
const ImageSubdir = "images"

type Config struct {
	App    AppConfig
	Remote RemoteConfig
	Data   DataConfig
	Sync   SyncConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Remote.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FALCON_APP_ENV" default:"dev"`
	Port         string `envconfig:"FALCON_APP_PORT" default:"8093"`
	LogLevel     string `envconfig:"FALCON_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FALCON_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// RemoteConfig points at the upstream catalog API. The key/secret pair is the
// only credential the mirror consumes.
type RemoteConfig struct {
	BaseURL        string        `envconfig:"FALCON_API_BASE_URL" required:"true"`
	ConsumerKey    string        `envconfig:"FALCON_API_CONSUMER_KEY" required:"true"`
	ConsumerSecret string        `envconfig:"FALCON_API_CONSUMER_SECRET" required:"true"`
	UserAgent      string        `envconfig:"FALCON_API_USER_AGENT" default:"FalconMirror/1.0"`
	Timeout        time.Duration `envconfig:"FALCON_HTTP_TIMEOUT" default:"45s"`
}

func (r RemoteConfig) validate() error {
	parsed, err := url.Parse(r.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid FALCON_API_BASE_URL %q", r.BaseURL)
	}
	return nil
}

type DataConfig struct {
	Dir string `envconfig:"FALCON_DATA_DIR" default:"./data"`
}

// DatabasePath returns the absolute-ish path of the catalog database file.
func (d DataConfig) DatabasePath() string {
	return filepath.Join(d.Dir, DatabaseFile)
}

// ImageDir returns the blob cache directory.
func (d DataConfig) ImageDir() string {
	return filepath.Join(d.Dir, ImageSubdir)
}

type SyncConfig struct {
	Schedule   string        `envconfig:"FALCON_SYNC_SCHEDULE" default:"*/30 * * * *"`
	SkewBuffer time.Duration `envconfig:"FALCON_SYNC_SKEW_BUFFER" default:"10m"`
	OnStart    bool          `envconfig:"FALCON_SYNC_ON_START" default:"true"`
}
