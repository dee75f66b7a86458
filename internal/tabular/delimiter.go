package tabular

// DelimiterSampleLines bounds how many lines the detector inspects.
const DelimiterSampleLines = 5

var delimiterCandidates = []rune{',', ';', '\t'}

// DetectDelimiter picks the field separator for delimited text by counting
// candidate occurrences per line, ignoring quoted spans, and preferring the
// candidate whose per-line count is most consistent. Ties break on total
// occurrence count. Comma is the fallback when no candidate repeats a count
// across lines.
func DetectDelimiter(lines []string) rune {
	if len(lines) > DelimiterSampleLines {
		lines = lines[:DelimiterSampleLines]
	}

	best := ','
	bestConsistency := 1
	bestTotal := 0

	for _, candidate := range delimiterCandidates {
		counts := make(map[int]int)
		total := 0
		for _, line := range lines {
			n := countUnquoted(line, candidate)
			if n == 0 {
				continue
			}
			counts[n]++
			total += n
		}

		consistency := 0
		for _, lines := range counts {
			if lines > consistency {
				consistency = lines
			}
		}

		if consistency > bestConsistency || (consistency == bestConsistency && total > bestTotal) {
			best = candidate
			bestConsistency = consistency
			bestTotal = total
		}
	}

	if bestConsistency < 2 {
		return ','
	}
	return best
}

// countUnquoted counts delim occurrences outside single or double quoted
// spans. A doubled quote inside a span is an escape, not a terminator.
func countUnquoted(line string, delim rune) int {
	var count int
	var quote rune

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if quote != 0 {
			if c == quote {
				if i+1 < len(runes) && runes[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case delim:
			count++
		}
	}
	return count
}
