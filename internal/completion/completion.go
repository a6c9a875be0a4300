// Package completion implements the sentinel-injection trick that turns
// plutoc's batch parser into a cursor-aware completion source: rewrite the
// target line with a reserved identifier at the cursor, invoke the
// compiler, and harvest the first suggest: line it emits.
package completion

import (
	"strings"

	"github.com/PlutoLang/Language-Server/internal/compiler"
	"github.com/PlutoLang/Language-Server/internal/hints"
)

const (
	sentinelWithFilter    = "pluto_suggest_1 "
	sentinelWithoutFilter = "pluto_suggest_0"
)

// Position is a zero-based line/character cursor location, matching LSP's
// Position shape.
type Position struct {
	Line      int
	Character int
}

// Engine drives a compiler.Driver under the completion sentinel.
type Engine struct {
	Driver *compiler.Driver
}

// NewEngine returns a completion Engine backed by d.
func NewEngine(d *compiler.Driver) *Engine {
	return &Engine{Driver: d}
}

// Complete injects the sentinel at pos into contents, invokes the compiler,
// and returns the candidates from the first Completions hint it reports.
// A compile producing no Completions hint yields an empty, non-nil slice.
func (e *Engine) Complete(contents string, pos Position) ([]hints.CompletionItem, error) {
	modified := inject(contents, pos)

	out, err := e.Driver.Run(modified)
	if err != nil {
		return nil, err
	}

	parsed, err := hints.Parse(out)
	if err != nil {
		return nil, err
	}

	for _, h := range parsed {
		if c, ok := h.(hints.Completions); ok {
			return c.Items, nil
		}
	}
	return []hints.CompletionItem{}, nil
}

// inject rewrites the target line of contents with the sentinel placed at
// pos, per spec.md §4.5.
func inject(contents string, pos Position) string {
	lines := strings.Split(contents, "\n")
	if pos.Line < 0 || pos.Line >= len(lines) {
		return contents
	}
	target := lines[pos.Line]

	boundary, hasFilter := scanBoundary(target, pos.Character)

	var sentinel string
	if hasFilter {
		sentinel = sentinelWithFilter
	} else {
		sentinel = sentinelWithoutFilter
	}

	lines[pos.Line] = target[:boundary] + sentinel + target[boundary:]
	return strings.Join(lines, "\n")
}

// scanBoundary walks backwards from the cursor to find where the sentinel
// should be inserted, and whether the user has already started typing an
// identifier (hasFilter).
func scanBoundary(line string, character int) (boundary int, hasFilter bool) {
	cursor := character
	if cursor == 0 {
		cursor = 1
	}
	if cursor > len(line) {
		cursor = len(line)
	}

	i := cursor - 1
	for i >= 0 {
		c := line[i]
		if c == ' ' || c == '.' || c == ':' {
			i++
			break
		}
		hasFilter = true
		i--
	}
	if i < 0 {
		i = 0
	}
	return i, hasFilter
}
