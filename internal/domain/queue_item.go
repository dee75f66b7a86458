package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus tracks one item through the processing queue.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueItem is one file handed to the processing queue. Items live in memory
// only; losing them on restart is accepted.
type QueueItem struct {
	ID          string      `json:"id"`
	FilePath    string      `json:"-"`
	FileName    string      `json:"fileName"`
	FileType    string      `json:"fileType"`
	UserID      string      `json:"userId"`
	UserName    string      `json:"userName,omitempty"`
	UserEmail   string      `json:"userEmail,omitempty"`
	Status      QueueStatus `json:"status"`
	ImportID    string      `json:"importId,omitempty"`
	Error       string      `json:"error,omitempty"`
	EnqueuedAt  time.Time   `json:"enqueuedAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// NewQueueItem creates a pending item for an uploaded file.
func NewQueueItem(filePath, fileName, fileType, userID, userName, userEmail string) QueueItem {
	return QueueItem{
		ID:         uuid.NewString(),
		FilePath:   filePath,
		FileName:   fileName,
		FileType:   fileType,
		UserID:     userID,
		UserName:   userName,
		UserEmail:  userEmail,
		Status:     QueueStatusPending,
		EnqueuedAt: time.Now().UTC(),
	}
}
