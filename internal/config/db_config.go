package config

import "github.com/modelzoo/modelzoo/pkg/check"

const sslModeDisable = "disable"

// DefaultDBConfig returns the default configuration of the database.
func DefaultDBConfig() *DBConfig {
	return &DBConfig{
		Migrations: "file://static/migrations",
		Host:       "localhost",
		Port:       "5432",
		Name:       "modelzoo",
		User:       "postgres",
		SSLMode:    sslModeDisable,
	}
}

// DBConfig hosts configuration fields of the database.
type DBConfig struct {
	User        string `json:"user"`
	Password    string `json:"password"`
	Migrations  string `json:"migrations"`
	Host        string `json:"host"`
	Port        string `json:"port"`
	Name        string `json:"name"`
	SSLMode     string `json:"ssl_mode"`
	SSLRootCert string `json:"ssl_root_cert"`
}

// Validate implements the check.Validatable interface.
func (c DBConfig) Validate() []error {
	return []error{
		check.NotEmpty(c.Host, "db host"),
		check.NotEmpty(c.Name, "db name"),
		check.NotEmpty(c.Migrations, "db migrations"),
	}
}
