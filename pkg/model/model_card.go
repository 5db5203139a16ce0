package model

import (
	"time"

	"github.com/uptrace/bun"
	"gopkg.in/guregu/null.v3"
)

// TaskReinforcementLearning is the task label whose cards carry an example video instead of an
// inference service.
const TaskReinforcementLearning = "Reinforcement Learning"

// ArtifactTypeMainModel marks the artifact that holds the model weights.
const ArtifactTypeMainModel = "mainModel"

// MaxTitleLength is the longest title a card may have.
const MaxTitleLength = 50

// Artifact is a file linked from a model card, usually produced by an experiment.
type Artifact struct {
	ArtifactType string  `json:"artifactType"`
	Name         string  `json:"name"`
	URL          string  `json:"url"`
	Timestamp    *string `json:"timestamp"`
	Framework    *string `json:"framework"`
}

// LinkedExperiment points a card at an experiment in an external tracker.
type LinkedExperiment struct {
	Connector    string  `json:"connector"`
	ExperimentID string  `json:"experimentId"`
	OutputURL    *string `json:"outputUrl,omitempty"`
}

// LinkedDataset points a card at a dataset in an external tracker.
type LinkedDataset struct {
	Connector string `json:"connector"`
	DatasetID string `json:"datasetId"`
}

// ModelCard corresponds to a row in the "models" DB table. (CreatorUserID, ModelID) is unique.
type ModelCard struct {
	bun.BaseModel `bun:"table:models,alias:m"`

	ID                   int64             `bun:"id,pk,autoincrement" json:"-"`
	ModelID              string            `bun:"model_id,notnull" json:"modelId"`
	CreatorUserID        string            `bun:"creator_user_id,notnull" json:"creatorUserId"`
	Title                string            `bun:"title,notnull" json:"title"`
	Markdown             string            `bun:"markdown,notnull" json:"markdown"`
	Performance          string            `bun:"performance,notnull" json:"performance"`
	Task                 string            `bun:"task,notnull" json:"task"`
	InferenceServiceName null.String       `bun:"inference_service_name" json:"inferenceServiceName"`
	VideoLocation        null.String       `bun:"video_location" json:"videoLocation"`
	Tags                 []string          `bun:"tags,array" json:"tags"`
	Frameworks           []string          `bun:"frameworks,array" json:"frameworks"`
	Description          null.String       `bun:"description" json:"description"`
	Explanation          null.String       `bun:"explanation" json:"explanation"`
	Usage                null.String       `bun:"usage" json:"usage"`
	Limitations          null.String       `bun:"limitations" json:"limitations"`
	Owner                null.String       `bun:"owner" json:"owner"`
	PointOfContact       null.String       `bun:"point_of_contact" json:"pointOfContact"`
	Artifacts            []Artifact        `bun:"artifacts,type:jsonb" json:"artifacts"`
	Experiment           *LinkedExperiment `bun:"experiment,type:jsonb" json:"experiment"`
	Dataset              *LinkedDataset    `bun:"dataset,type:jsonb" json:"dataset"`
	Created              time.Time         `bun:"created,nullzero,notnull,default:current_timestamp" json:"created"`
	LastModified         time.Time         `bun:"last_modified,nullzero,notnull,default:current_timestamp" json:"lastModified"`
}

// CardKey is the composite key of a model card.
type CardKey struct {
	ModelID       string `json:"model_id"`
	CreatorUserID string `json:"creator_user_id"`
}

// Key returns the composite key of the card.
func (c ModelCard) Key() CardKey {
	return CardKey{ModelID: c.ModelID, CreatorUserID: c.CreatorUserID}
}

// MainModel returns the first artifact of type mainModel.
func (c ModelCard) MainModel() (Artifact, bool) {
	for _, a := range c.Artifacts {
		if a.ArtifactType == ArtifactTypeMainModel {
			return a, true
		}
	}
	return Artifact{}, false
}

// CanBeModifiedBy checks whether "user" may update or delete the card.
func (c ModelCard) CanBeModifiedBy(user User) bool {
	return user.AdminPriv || user.UserID == c.CreatorUserID
}
