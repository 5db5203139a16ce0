package main

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/modelzoo/modelzoo/internal/config"
)

var v *viper.Viper

// viperKeyDelimiter marks nested values in the configuration, so `db..host` is the `host` field
// of `db`. A single "." would make keys containing a dot unreachable.
const viperKeyDelimiter = ".."

// envStateVar selects the profile, and with it the prefix of every other environment variable.
const envStateVar = "ENV_STATE"

//nolint:gochecknoinit
func init() {
	rootCmd.Version = version
	v = registerConfig(rootCmd.Flags(), envPrefix(os.Getenv(envStateVar)))
}

// version is set at link time.
var version = "dev"

func envPrefix(envState string) string {
	envState = strings.TrimSpace(envState)
	if envState == "" {
		envState = config.EnvDev
	}
	return strings.ToUpper(envState)
}

type configKey []string

func (c configKey) EnvName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(strings.ToUpper(c.FlagName()), "-", "_")
}

func (c configKey) AccessPath() string {
	return strings.ReplaceAll(strings.Join(c, viperKeyDelimiter), "-", "_")
}

func (c configKey) FlagName() string {
	return strings.Join(c, "-")
}

type registrar struct {
	v      *viper.Viper
	flags  *pflag.FlagSet
	prefix string
}

func (r registrar) bind(name configKey, value interface{}) {
	_ = r.v.BindEnv(name.AccessPath(), name.EnvName(r.prefix))
	_ = r.v.BindPFlag(name.AccessPath(), r.flags.Lookup(name.FlagName()))
	r.v.SetDefault(name.AccessPath(), value)
}

func (r registrar) String(name configKey, value string, usage string) {
	r.flags.String(name.FlagName(), value, usage)
	r.bind(name, value)
}

func (r registrar) Bool(name configKey, value bool, usage string) {
	r.flags.Bool(name.FlagName(), value, usage)
	r.bind(name, value)
}

func (r registrar) Int(name configKey, value int, usage string) {
	r.flags.Int(name.FlagName(), value, usage)
	r.bind(name, value)
}

func (r registrar) Float64(name configKey, value float64, usage string) {
	r.flags.Float64(name.FlagName(), value, usage)
	r.bind(name, value)
}

// registerConfig declares a flag and an environment variable for every configuration field and
// returns the viper instance they are bound to.
func registerConfig(flags *pflag.FlagSet, prefix string) *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(viperKeyDelimiter))
	v.SetTypeByDefaultValue(true)

	defaults := config.DefaultConfig()
	r := registrar{v: v, flags: flags, prefix: prefix}
	name := func(components ...string) configKey { return components }

	r.String(name("config-file"),
		defaults.ConfigFile, "location of config file")
	r.String(name("env-state"),
		defaults.EnvState, "environment profile from [dev, stg, prod, test]")
	_ = v.BindEnv(name("env-state").AccessPath(), envStateVar)
	r.Int(name("port"),
		defaults.Port, "server port")
	r.String(name("frontend-host"),
		defaults.FrontendHost, "comma-separated origins allowed to call the API with credentials")
	r.Float64(name("max-upload-size-gb"),
		defaults.MaxUploadSizeGB, "largest accepted request body in GiB")

	r.String(name("log", "level"),
		defaults.Log.Level, "choose logging level from [trace, debug, info, warn, error, fatal]")
	r.Bool(name("log", "color"),
		defaults.Log.Color, "output logs in color")
	r.Bool(name("log", "json"),
		defaults.Log.JSON, "output logs as JSON")

	r.String(name("db", "user"),
		defaults.DB.User, "database username")
	r.String(name("db", "password"),
		defaults.DB.Password, "database password")
	r.String(name("db", "migrations"),
		defaults.DB.Migrations, "location of the database migrations")
	r.String(name("db", "host"),
		defaults.DB.Host, "database host")
	r.String(name("db", "port"),
		defaults.DB.Port, "database port")
	r.String(name("db", "name"),
		defaults.DB.Name, "database name")
	r.String(name("db", "ssl-mode"),
		defaults.DB.SSLMode, "database ssl mode (disable, verify-ca, ...)")
	r.String(name("db", "ssl-root-cert"),
		defaults.DB.SSLRootCert, "database ssl root cert path")

	r.String(name("auth", "secret-key"),
		defaults.Auth.SecretKey, "key signing session tokens")
	r.Int(name("auth", "access-token-minutes"),
		defaults.Auth.AccessTokenMinutes, "access token lifetime in minutes")
	r.Int(name("auth", "refresh-token-days"),
		defaults.Auth.RefreshTokenDays, "refresh token lifetime in days")
	r.String(name("auth", "first-superuser-id"),
		defaults.Auth.FirstSuperuserID, "user id of the administrator created at startup")
	r.String(name("auth", "first-superuser-name"),
		defaults.Auth.FirstSuperuserName, "name of the administrator created at startup")
	r.String(name("auth", "first-superuser-password"),
		defaults.Auth.FirstSuperuserPassword, "password of the administrator created at startup")

	r.String(name("object-store", "endpoint"),
		defaults.ObjectStore.Endpoint, "object store address used by the server")
	r.String(name("object-store", "api-host"),
		defaults.ObjectStore.APIHost, "public object store address for presigned links")
	r.String(name("object-store", "bucket"),
		defaults.ObjectStore.Bucket, "object store bucket")
	r.String(name("object-store", "access-key"),
		defaults.ObjectStore.AccessKey, "object store access key")
	r.String(name("object-store", "secret-key"),
		defaults.ObjectStore.SecretKey, "object store secret key")
	r.Bool(name("object-store", "tls"),
		defaults.ObjectStore.TLS, "connect to the object store over TLS")

	r.String(name("cluster", "namespace"),
		defaults.Cluster.Namespace, "namespace of inference services")
	r.String(name("cluster", "service-type"),
		defaults.Cluster.ServiceType, "inference service backend from [knative, emissary]")
	r.Bool(name("cluster", "in-cluster"),
		defaults.Cluster.InCluster, "use the in-cluster Kubernetes credentials")
	r.String(name("cluster", "host"),
		defaults.Cluster.Host, "Kubernetes API server address")
	r.String(name("cluster", "api-key"),
		defaults.Cluster.APIKey, "Kubernetes bearer token")

	r.String(name("clearml", "web-host"),
		defaults.ClearML.WebHost, "ClearML web UI address")
	r.String(name("clearml", "api-host"),
		defaults.ClearML.APIHost, "ClearML API address")
	r.String(name("clearml", "files-host"),
		defaults.ClearML.FilesHost, "ClearML file server address")
	r.String(name("clearml", "access-key"),
		defaults.ClearML.AccessKey, "ClearML access key")
	r.String(name("clearml", "secret-key"),
		defaults.ClearML.SecretKey, "ClearML secret key")

	r.Int(name("tasks", "workers"),
		defaults.Tasks.Workers, "number of background task workers")
	r.Int(name("tasks", "queue-size"),
		defaults.Tasks.QueueSize, "number of background tasks that may wait for a worker")
	return v
}
