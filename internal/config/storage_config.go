package config

import "github.com/modelzoo/modelzoo/pkg/check"

// DefaultObjectStoreConfig returns the default object store settings.
func DefaultObjectStoreConfig() *ObjectStoreConfig {
	return &ObjectStoreConfig{
		Bucket:         "model-zoo",
		Region:         "us-east-1",
		TimeoutSeconds: 60,
	}
}

// ObjectStoreConfig hosts the S3-compatible (MinIO) store settings. Endpoint is the address the
// server talks to; APIHost is the public address presigned URLs are issued for.
type ObjectStoreConfig struct {
	Endpoint       string `json:"endpoint"`
	APIHost        string `json:"api_host"`
	Bucket         string `json:"bucket"`
	Region         string `json:"region"`
	TLS            bool   `json:"tls"`
	AccessKey      string `json:"access_key"`
	SecretKey      string `json:"secret_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Validate implements the check.Validatable interface.
func (c ObjectStoreConfig) Validate() []error {
	return []error{
		check.NotEmpty(c.Bucket, "object store bucket"),
		check.True(c.TimeoutSeconds > 0, "object store timeout_seconds must be positive"),
		check.AbsoluteURL(c.APIHost, "object store api_host"),
	}
}

// DefaultClusterConfig returns the default Kubernetes settings.
func DefaultClusterConfig() *ClusterConfig {
	return &ClusterConfig{
		ServiceType:     "emissary",
		DefaultProtocol: "http",
		TimeoutSeconds:  30,
	}
}

// ClusterConfig hosts the Kubernetes settings for inference services. Cleanup of cluster
// resources is disabled unless either InCluster or Host is set.
type ClusterConfig struct {
	Namespace       string `json:"namespace"`
	ServiceType     string `json:"service_type"`
	DefaultProtocol string `json:"default_protocol"`
	Domain          string `json:"domain"`
	InCluster       bool   `json:"in_cluster"`
	Host            string `json:"host"`
	APIKey          string `json:"api_key"`
	CAFile          string `json:"ca_file"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// Enabled reports whether a cluster is configured.
func (c ClusterConfig) Enabled() bool {
	return c.InCluster || c.Host != ""
}

// Validate implements the check.Validatable interface.
func (c ClusterConfig) Validate() []error {
	errs := []error{
		check.In(c.ServiceType, []string{"knative", "emissary"}, "cluster service_type"),
		check.True(c.TimeoutSeconds > 0, "cluster timeout_seconds must be positive"),
	}
	if c.Enabled() {
		errs = append(errs, check.NotEmpty(c.Namespace, "cluster namespace"))
	}
	return errs
}

// DefaultClearMLConfig returns the default experiment tracker settings.
func DefaultClearMLConfig() *ClearMLConfig {
	return &ClearMLConfig{TimeoutSeconds: 30}
}

// ClearMLConfig hosts the ClearML tracker settings.
type ClearMLConfig struct {
	WebHost        string `json:"web_host"`
	APIHost        string `json:"api_host"`
	FilesHost      string `json:"files_host"`
	AccessKey      string `json:"access_key"`
	SecretKey      string `json:"secret_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Validate implements the check.Validatable interface.
func (c ClearMLConfig) Validate() []error {
	return []error{
		check.AbsoluteURL(c.APIHost, "clearml api_host"),
		check.AbsoluteURL(c.WebHost, "clearml web_host"),
	}
}

// DefaultTaskConfig returns the default background task pool settings.
func DefaultTaskConfig() *TaskConfig {
	return &TaskConfig{Workers: 4, QueueSize: 64, History: 256}
}

// TaskConfig sizes the background task pool.
type TaskConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
	History   int `json:"history"`
}

// Validate implements the check.Validatable interface.
func (c TaskConfig) Validate() []error {
	return []error{
		check.True(c.Workers > 0, "tasks workers must be positive"),
		check.True(c.QueueSize > 0, "tasks queue_size must be positive"),
		check.True(c.History >= 0, "tasks history must not be negative"),
	}
}
