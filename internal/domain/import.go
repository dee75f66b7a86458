package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImportStatus tracks the lifecycle of an import.
type ImportStatus string

const (
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
)

// Document type discriminators stored alongside every document so metadata,
// rows, and legacy untyped content can be told apart within one partition.
const (
	DocTypeImport = "import_metadata"
	DocTypeRow    = "import_row"
)

const importKeyPrefix = "import_"

// ImportError records one row level or stage level failure of an import.
type ImportError struct {
	Row     int            `json:"row"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ImportMetadata describes one uploaded file and the outcome of processing it.
type ImportMetadata struct {
	ID               string               `json:"id"`
	DocType          string               `json:"docType"`
	FileName         string               `json:"fileName"`
	FileType         string               `json:"fileType"`
	FileSize         int64                `json:"fileSize"`
	Status           ImportStatus         `json:"status"`
	TotalRows        int                  `json:"totalRows"`
	ValidRows        int                  `json:"validRows"`
	ErrorRows        int                  `json:"errorRows"`
	Headers          []string             `json:"headers"`
	FieldTypes       map[string]FieldType `json:"fieldTypes"`
	Errors           []ImportError        `json:"errors"`
	BlobURL          string               `json:"blobUrl,omitempty"`
	ProcessedBy      string               `json:"processedBy"`
	ProcessedByName  string               `json:"processedByName,omitempty"`
	ProcessedByEmail string               `json:"processedByEmail,omitempty"`
	ProcessedAt      time.Time            `json:"processedAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// NewImportMetadata creates metadata for a fresh upload in the processing state.
func NewImportMetadata(fileName, fileType string, fileSize int64, userID, userName, userEmail string) ImportMetadata {
	now := time.Now().UTC()
	return ImportMetadata{
		ID:               uuid.NewString(),
		DocType:          DocTypeImport,
		FileName:         fileName,
		FileType:         fileType,
		FileSize:         fileSize,
		Status:           ImportStatusProcessing,
		Headers:          []string{},
		FieldTypes:       map[string]FieldType{},
		Errors:           []ImportError{},
		ProcessedBy:      userID,
		ProcessedByName:  userName,
		ProcessedByEmail: userEmail,
		ProcessedAt:      now,
		UpdatedAt:        now,
	}
}

// Key returns the storage key of this metadata document.
func (m ImportMetadata) Key() string {
	return ImportKey(m.ID)
}

// ImportKey normalizes an import identifier to its canonical storage key with
// exactly one prefix. Callers may hand in a raw id, a keyed id, or a
// double-prefixed id left over from historic data.
func ImportKey(id string) string {
	return importKeyPrefix + ImportID(id)
}

// ImportID strips every key prefix from an identifier, returning the bare id.
func ImportID(id string) string {
	id = strings.TrimSpace(id)
	for strings.HasPrefix(id, importKeyPrefix) {
		id = strings.TrimPrefix(id, importKeyPrefix)
	}
	return id
}

// HasDoublePrefix reports whether an identifier carries more than one key
// prefix. Such ids signal a pre-existing data quality issue worth surfacing.
func HasDoublePrefix(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), importKeyPrefix+importKeyPrefix)
}
