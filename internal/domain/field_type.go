package domain

// FieldType is the advisory per-column type recorded on import metadata. It
// documents what the inferencer saw; storage keeps the values as parsed.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
	FieldTypeArray   FieldType = "array"
	FieldTypeObject  FieldType = "object"
)
