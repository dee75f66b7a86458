package tabular

import "testing"

func TestDetectDelimiterComma(t *testing.T) {
	lines := []string{"a,b,c", "1,2,3", "4,5,6"}
	if got := DetectDelimiter(lines); got != ',' {
		t.Fatalf("expected comma, got %q", got)
	}
}

func TestDetectDelimiterSemicolon(t *testing.T) {
	lines := []string{"a;b;c", "1;2;3"}
	if got := DetectDelimiter(lines); got != ';' {
		t.Fatalf("expected semicolon, got %q", got)
	}
}

func TestDetectDelimiterTab(t *testing.T) {
	lines := []string{"a\tb\tc", "1\t2\t3", "4\t5\t6"}
	if got := DetectDelimiter(lines); got != '\t' {
		t.Fatalf("expected tab, got %q", got)
	}
}

func TestDetectDelimiterDefaultsToCommaOnDisagreement(t *testing.T) {
	lines := []string{"a;b", "c;d;e;f", "g"}
	if got := DetectDelimiter(lines); got != ',' {
		t.Fatalf("expected comma fallback, got %q", got)
	}
}

func TestDetectDelimiterIgnoresQuotedSpans(t *testing.T) {
	lines := []string{
		`name;"value; with; semicolons"`,
		`a;"b;;c"`,
		`d;e`,
	}
	if got := DetectDelimiter(lines); got != ';' {
		t.Fatalf("expected semicolon, got %q", got)
	}
}

func TestCountUnquotedHandlesDoubledQuotes(t *testing.T) {
	// The doubled quote keeps the span open, so both commas stay hidden.
	if got := countUnquoted(`"he said ""hi"", twice",x`, ','); got != 1 {
		t.Fatalf("expected 1 unquoted comma, got %d", got)
	}
}

func TestCountUnquotedSingleQuotes(t *testing.T) {
	if got := countUnquoted(`'a,b',c`, ','); got != 1 {
		t.Fatalf("expected 1 unquoted comma, got %d", got)
	}
}
