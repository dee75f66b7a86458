package tabular

import (
	"encoding/json"
	"strings"
	"time"

	"tabimport/internal/domain"
)

// typePriority orders the tally tie-break. Number before string gives the
// numeric bias: a field split evenly between the two is typed number.
var typePriority = []domain.FieldType{
	domain.FieldTypeNumber,
	domain.FieldTypeBoolean,
	domain.FieldTypeDate,
	domain.FieldTypeArray,
	domain.FieldTypeObject,
	domain.FieldTypeString,
}

// InferFieldTypes assigns each header the most frequent type among its
// observed values. Fields with no values default to string. The outcome is
// advisory metadata; stored values keep their parsed types.
func InferFieldTypes(rows []Row, headers []string) map[string]domain.FieldType {
	tallies := make(map[string]map[domain.FieldType]int, len(headers))
	for _, header := range headers {
		tallies[header] = map[domain.FieldType]int{}
	}

	for _, row := range rows {
		for _, header := range headers {
			value, ok := row.Values[header]
			if !ok || value == nil {
				continue
			}
			tallies[header][classifyValue(value)]++
		}
	}

	types := make(map[string]domain.FieldType, len(headers))
	for _, header := range headers {
		types[header] = dominantType(tallies[header])
	}
	return types
}

func dominantType(tally map[domain.FieldType]int) domain.FieldType {
	best := domain.FieldTypeString
	bestCount := 0
	for _, candidate := range typePriority {
		if count := tally[candidate]; count > bestCount {
			best = candidate
			bestCount = count
		}
	}
	return best
}

func classifyValue(value any) domain.FieldType {
	switch v := value.(type) {
	case float64, float32, int, int64:
		return domain.FieldTypeNumber
	case bool:
		return domain.FieldTypeBoolean
	case time.Time:
		return domain.FieldTypeDate
	case []any:
		return domain.FieldTypeArray
	case map[string]any:
		return domain.FieldTypeObject
	case string:
		return classifyString(v)
	default:
		return domain.FieldTypeString
	}
}

func classifyString(value string) domain.FieldType {
	trimmed := strings.TrimSpace(value)
	lower := strings.ToLower(trimmed)

	if lower == "true" || lower == "false" {
		return domain.FieldTypeBoolean
	}
	if numberPattern.MatchString(trimmed) {
		return domain.FieldTypeNumber
	}
	if looksLikeDate(trimmed) {
		return domain.FieldTypeDate
	}
	if strings.HasPrefix(trimmed, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
			return domain.FieldTypeArray
		}
	}
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return domain.FieldTypeObject
		}
	}
	return domain.FieldTypeString
}

func looksLikeDate(value string) bool {
	if m := dmyPattern.FindStringSubmatch(value); m != nil {
		_, ok := parseDayMonthYear(m[1], m[2], m[3])
		return ok
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}
