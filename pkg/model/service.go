package model

import (
	"time"

	"github.com/uptrace/bun"
)

// ServiceBackend is the cluster machinery that serves an inference service.
type ServiceBackend string

const (
	// BackendKnative serves inference services as Knative services.
	BackendKnative ServiceBackend = "knative"
	// BackendEmissary serves inference services as Deployments behind Emissary mappings.
	BackendEmissary ServiceBackend = "emissary"
)

// InferenceService corresponds to a row in the "services" DB table.
type InferenceService struct {
	bun.BaseModel `bun:"table:services,alias:s"`

	ID            int64             `bun:"id,pk,autoincrement" json:"-"`
	ServiceName   string            `bun:"service_name,notnull" json:"serviceName"`
	ModelID       string            `bun:"model_id,notnull" json:"modelId"`
	CreatorUserID string            `bun:"creator_user_id" json:"creatorUserId"`
	ImageURI      string            `bun:"image_uri,notnull" json:"imageUri"`
	ContainerPort *int              `bun:"container_port" json:"containerPort"`
	Env           map[string]string `bun:"env,type:jsonb" json:"env"`
	NumGPUs       float64           `bun:"num_gpus,notnull" json:"numGpus"`
	InferenceURL  string            `bun:"inference_url,notnull" json:"inferenceUrl"`
	OwnerID       string            `bun:"owner_id,notnull" json:"ownerId"`
	Host          string            `bun:"host" json:"host"`
	Path          string            `bun:"path" json:"path"`
	Protocol      string            `bun:"protocol" json:"protocol"`
	Backend       ServiceBackend    `bun:"backend" json:"backend"`
	Created       time.Time         `bun:"created,nullzero,notnull,default:current_timestamp" json:"created"`
	LastModified  time.Time         `bun:"last_modified,nullzero,notnull,default:current_timestamp" json:"lastModified"`
}
