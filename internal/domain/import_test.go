package domain

import "testing"

func TestImportKeyNormalization(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"abc-123", "import_abc-123"},
		{"import_abc-123", "import_abc-123"},
		{"import_import_abc-123", "import_abc-123"},
		{"  import_abc-123  ", "import_abc-123"},
	}
	for _, tc := range cases {
		if got := ImportKey(tc.in); got != tc.want {
			t.Errorf("ImportKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestImportIDStripsEveryPrefix(t *testing.T) {
	if got := ImportID("import_import_import_x"); got != "x" {
		t.Fatalf("expected bare id, got %q", got)
	}
	if got := ImportID("x"); got != "x" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestHasDoublePrefix(t *testing.T) {
	if HasDoublePrefix("import_abc") {
		t.Fatalf("single prefix must not report double")
	}
	if !HasDoublePrefix("import_import_abc") {
		t.Fatalf("double prefix not detected")
	}
}

func TestRowKey(t *testing.T) {
	if got := RowKey("abc", 7); got != "import_abc_row_7" {
		t.Fatalf("unexpected row key %q", got)
	}
	// A keyed id must not pick up a second prefix.
	if got := RowKey("import_abc", 7); got != "import_abc_row_7" {
		t.Fatalf("unexpected row key %q", got)
	}
}

func TestNewImportMetadataDefaults(t *testing.T) {
	meta := NewImportMetadata("f.csv", "text/csv", 42, "u1", "User", "u@example.com")
	if meta.ID == "" {
		t.Fatalf("expected generated id")
	}
	if meta.Status != ImportStatusProcessing {
		t.Fatalf("expected processing status, got %s", meta.Status)
	}
	if meta.DocType != DocTypeImport {
		t.Fatalf("expected metadata doc type, got %s", meta.DocType)
	}
	if meta.Key() != "import_"+meta.ID {
		t.Fatalf("unexpected key %q", meta.Key())
	}
}
