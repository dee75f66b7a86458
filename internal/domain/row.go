package domain

import "fmt"

// System fields stamped onto every persisted row document next to the
// original column values.
const (
	RowFieldImportID   = "importId"
	RowFieldRowNumber  = "rowNumber"
	RowFieldImportedAt = "importedAt"
	RowFieldImportedBy = "importedBy"
)

// RowKey derives the storage key of one row document. The key is a pure
// function of (import, row number) so re-writing the same row upserts instead
// of duplicating.
func RowKey(importID string, rowNumber int) string {
	return fmt.Sprintf("%s_row_%d", ImportKey(importID), rowNumber)
}
