package model

import (
	"time"

	"github.com/uptrace/bun"
	"gopkg.in/guregu/null.v3"
)

// ExportStatus is the progress of an export batch or of one item in it.
type ExportStatus string

const (
	// ExportInProgress is set when a batch or item starts.
	ExportInProgress ExportStatus = "In Progress"
	// ExportCompleted marks a finished item, or a batch where no item failed.
	ExportCompleted ExportStatus = "Completed"
	// ExportFailed marks an item that hit at least one error.
	ExportFailed ExportStatus = "Failed"
	// ExportCompletedWithErrors marks a finished batch where at least one item failed.
	ExportCompletedWithErrors ExportStatus = "Completed with errors"
)

// ExportItem is one requested card within an export batch.
type ExportItem struct {
	ModelID       string       `json:"modelId"`
	CreatorUserID string       `json:"creatorUserId"`
	Status        ExportStatus `json:"status,omitempty"`
	Reasons       []string     `json:"reasons,omitempty"`
}

// ExportLog corresponds to a row in the "exports" DB table.
type ExportLog struct {
	bun.BaseModel `bun:"table:exports,alias:e"`

	ID             int64        `bun:"id,pk,autoincrement" json:"-"`
	UserID         string       `bun:"user_id,notnull" json:"userId"`
	Status         ExportStatus `bun:"status,notnull" json:"status"`
	TimeInitiated  time.Time    `bun:"time_initiated,notnull" json:"timeInitiated"`
	TimeCompleted  null.Time    `bun:"time_completed" json:"timeCompleted"`
	ExportLocation null.String  `bun:"export_location" json:"exportLocation"`
	Models         []ExportItem `bun:"models,type:jsonb" json:"models"`
}

// Failed reports whether any item of the batch failed.
func (l ExportLog) Failed() bool {
	for _, m := range l.Models {
		if m.Status == ExportFailed {
			return true
		}
	}
	return false
}
