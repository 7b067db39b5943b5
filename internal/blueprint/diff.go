package blueprint

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"
)

// diffContext is the number of unchanged lines shown around each change.
const diffContext = 3

// Diff computes a unified line diff between versions v1 and v2 of blueprint
// name. The result starts with "--- name:v1" and "+++ name:v2" headers,
// followed by "@@" hunk headers and lines prefixed with '-', '+' or ' '.
// Lines are compared exactly, without whitespace normalization.
//
// If either version is missing the result is the single line
// NotFoundMessage and the error is nil. Identical versions produce an empty
// diff. Only I/O failures are returned as errors.
func (s *Store) Diff(name, v1, v2 string) ([]string, error) {
	a, foundA, err := s.Load(name, v1)
	if err != nil {
		return nil, err
	}
	b, foundB, err := s.Load(name, v2)
	if err != nil {
		return nil, err
	}
	if !foundA || !foundB {
		return []string{NotFoundMessage}, nil
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(a),
		B:        splitLines(b),
		FromFile: name + ":" + v1,
		ToFile:   name + ":" + v2,
		Context:  diffContext,
	})
	if err != nil {
		return nil, fmt.Errorf("diffing %s %s..%s: %w", name, v1, v2, err)
	}
	if text == "" {
		return []string{}, nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n"), nil
}

// splitLines breaks content into newline-terminated lines. A trailing
// newline does not produce an extra empty line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	for i := range lines {
		lines[i] += "\n"
	}
	return lines
}

// Stat summarizes the size of a diff.
type Stat struct {
	Added   int // lines present only in the newer version
	Deleted int // lines present only in the older version
	Hunks   int
}

// String renders the stat as "+N lines, -M lines".
func (st Stat) String() string {
	return fmt.Sprintf("+%d lines, -%d lines", st.Added, st.Deleted)
}

// DiffStat parses diff lines produced by Diff and counts added and deleted
// lines. An empty diff yields a zero Stat. The not-found sentinel line
// yields ErrNotFound.
func DiffStat(lines []string) (Stat, error) {
	if len(lines) == 0 {
		return Stat{}, nil
	}
	if len(lines) == 1 && lines[0] == NotFoundMessage {
		return Stat{}, ErrNotFound
	}

	fd, err := godiff.ParseFileDiff([]byte(strings.Join(lines, "\n") + "\n"))
	if err != nil {
		return Stat{}, fmt.Errorf("parsing diff: %w", err)
	}

	// go-diff folds adjacent -/+ pairs into Changed; count them on both sides.
	st := fd.Stat()
	return Stat{
		Added:   int(st.Added + st.Changed),
		Deleted: int(st.Deleted + st.Changed),
		Hunks:   len(fd.Hunks),
	}, nil
}
