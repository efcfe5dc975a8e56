// Package merge integrates agent branches into the target branch and
// auto-resolves textual conflicts.
package merge

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy selects which side of a conflict hunk survives resolution.
type Strategy string

const (
	// StrategyOurs keeps the target branch's side of each hunk.
	StrategyOurs Strategy = "ours"
	// StrategyTheirs keeps the source branch's side of each hunk.
	// Agent branches default to this: the agent's change is the intent.
	StrategyTheirs Strategy = "theirs"
	// StrategyCombined keeps both sides, target first.
	StrategyCombined Strategy = "combined"
)

// Valid reports whether the strategy is recognized.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyOurs, StrategyTheirs, StrategyCombined:
		return true
	}
	return false
}

// ErrMalformedConflict indicates conflict markers that do not pair up.
var ErrMalformedConflict = errors.New("malformed conflict markers")

// Conflict markers as git writes them with the default marker size.
const (
	markerOurs      = "<<<<<<<"
	markerSeparator = "======="
	markerBase      = "|||||||"
	markerTheirs    = ">>>>>>>"
)

// ResolveFile resolves every conflict hunk in content using the given
// strategy and returns the resolved bytes plus the number of hunks
// resolved. Content without conflict markers passes through unchanged,
// so resolution is idempotent.
func ResolveFile(content []byte, strategy Strategy) ([]byte, int, error) {
	if !strategy.Valid() {
		return nil, 0, fmt.Errorf("unknown merge strategy %q", strategy)
	}

	lines := strings.Split(string(content), "\n")
	out := make([]string, 0, len(lines))
	resolved := 0

	for i := 0; i < len(lines); {
		if !strings.HasPrefix(lines[i], markerOurs) {
			out = append(out, lines[i])
			i++
			continue
		}

		ours, theirs, next, err := parseHunk(lines, i)
		if err != nil {
			return nil, 0, err
		}
		switch strategy {
		case StrategyOurs:
			out = append(out, ours...)
		case StrategyTheirs:
			out = append(out, theirs...)
		case StrategyCombined:
			out = append(out, ours...)
			out = append(out, theirs...)
		}
		resolved++
		i = next
	}

	return []byte(strings.Join(out, "\n")), resolved, nil
}

// parseHunk consumes one conflict hunk starting at the `<<<<<<<` line
// at index start. It returns the ours side, the theirs side, and the
// index of the first line after the hunk. An optional diff3 base
// section (`|||||||`) is discarded.
func parseHunk(lines []string, start int) (ours, theirs []string, next int, err error) {
	i := start + 1

	for ; i < len(lines); i++ {
		if lines[i] == markerSeparator {
			break
		}
		if strings.HasPrefix(lines[i], markerBase) {
			for i++; i < len(lines); i++ {
				if lines[i] == markerSeparator {
					break
				}
			}
			break
		}
		ours = append(ours, lines[i])
	}
	if i >= len(lines) {
		return nil, nil, 0, fmt.Errorf("%w: missing separator after line %d", ErrMalformedConflict, start+1)
	}

	for i++; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], markerTheirs) {
			return ours, theirs, i + 1, nil
		}
		theirs = append(theirs, lines[i])
	}
	return nil, nil, 0, fmt.Errorf("%w: unterminated hunk starting at line %d", ErrMalformedConflict, start+1)
}
