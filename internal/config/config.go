package config

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/modelzoo/modelzoo/pkg/check"
	"github.com/modelzoo/modelzoo/pkg/logger"
)

// Profiles selected by env_state.
const (
	EnvDev  = "dev"
	EnvStg  = "stg"
	EnvProd = "prod"
	EnvTest = "test"
)

const hiddenValue = "********"

// DefaultConfig returns the default configuration of the server.
func DefaultConfig() *Config {
	return &Config{
		EnvState:        EnvDev,
		Port:            8080,
		MaxUploadSizeGB: 10,
		Log:             *logger.DefaultConfig(),
		DB:              *DefaultDBConfig(),
		Auth:            *DefaultAuthConfig(),
		ObjectStore:     *DefaultObjectStoreConfig(),
		Cluster:         *DefaultClusterConfig(),
		ClearML:         *DefaultClearMLConfig(),
		Tasks:           *DefaultTaskConfig(),
	}
}

// Config is the configuration of the server.
//
// It is populated, in the following order, by the configuration file, environment variables
// and command line arguments. It is built once at startup and handed to each component.
type Config struct {
	ConfigFile      string            `json:"config_file"`
	EnvState        string            `json:"env_state"`
	Port            int               `json:"port"`
	FrontendHost    string            `json:"frontend_host"`
	MaxUploadSizeGB float64           `json:"max_upload_size_gb"`
	Log             logger.Config     `json:"log"`
	DB              DBConfig          `json:"db"`
	Auth            AuthConfig        `json:"auth"`
	ObjectStore     ObjectStoreConfig `json:"object_store"`
	Cluster         ClusterConfig     `json:"cluster"`
	ClearML         ClearMLConfig     `json:"clearml"`
	Tasks           TaskConfig        `json:"tasks"`
}

// AllowedOrigins returns the comma-separated frontend hosts as CORS origins.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.FrontendHost, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, strings.TrimSuffix(o, "/"))
		}
	}
	return origins
}

// MaxUploadBytes is the largest accepted upload body.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadSizeGB * 1024 * 1024 * 1024)
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	return []error{
		check.In(c.EnvState, []string{EnvDev, EnvStg, EnvProd, EnvTest}, "env_state"),
		check.True(c.Port > 0 && c.Port < 1<<16, "port must be between 1 and 65535"),
		check.GreaterThan(c.MaxUploadSizeGB, 0, "max_upload_size_gb"),
	}
}

// Printable returns the configuration as JSON with secrets masked.
func (c Config) Printable() ([]byte, error) {
	if c.DB.Password != "" {
		c.DB.Password = hiddenValue
	}
	if c.Auth.SecretKey != "" {
		c.Auth.SecretKey = hiddenValue
	}
	if c.Auth.FirstSuperuserPassword != "" {
		c.Auth.FirstSuperuserPassword = hiddenValue
	}
	if c.ObjectStore.SecretKey != "" {
		c.ObjectStore.SecretKey = hiddenValue
	}
	if c.Cluster.APIKey != "" {
		c.Cluster.APIKey = hiddenValue
	}
	if c.ClearML.SecretKey != "" {
		c.ClearML.SecretKey = hiddenValue
	}

	optJSON, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert config to JSON")
	}
	return optJSON, nil
}

// Resolve fills in values that depend on other values.
func (c *Config) Resolve() error {
	c.EnvState = strings.ToLower(strings.TrimSpace(c.EnvState))
	if c.Auth.SecureCookies == nil {
		secure := c.EnvState == EnvProd || c.EnvState == EnvStg
		c.Auth.SecureCookies = &secure
	}
	c.ObjectStore.APIHost = strings.TrimSuffix(c.ObjectStore.APIHost, "/")
	c.ClearML.APIHost = strings.TrimSuffix(c.ClearML.APIHost, "/")
	c.ClearML.WebHost = strings.TrimSuffix(c.ClearML.WebHost, "/")
	if c.Cluster.ServiceType == "" {
		c.Cluster.ServiceType = "emissary"
	}
	return nil
}
