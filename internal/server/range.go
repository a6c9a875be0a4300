package server

import "strings"

// lineLength returns the byte length of the given 0-based line in
// contents, or 1 if the line index is out of range. The out-of-range
// fallback of 1 (not 0) is surprising but intentional: it preserves
// compatibility with editor clients' half-open range handling.
func lineLength(contents string, line uint64) int {
	lines := strings.Split(contents, "\n")
	if line < uint64(len(lines)) {
		return len(lines[line])
	}
	return 1
}

type position struct {
	Line      uint64 `json:"line"`
	Character int    `json:"character"`
}

type lspRange struct {
	Start position `json:"start"`
	End   position `json:"end"`
}

// encodeLineRange builds the [start,end] range LSP expects for a
// line-level diagnostic: the whole line, from column 0 to lineLength.
func encodeLineRange(contents string, line uint64) lspRange {
	return lspRange{
		Start: position{Line: line, Character: 0},
		End:   position{Line: line, Character: lineLength(contents, line)},
	}
}
