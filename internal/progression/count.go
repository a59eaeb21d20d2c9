package progression

import (
	"regexp"
	"strconv"
)

var (
	verbCountRe = regexp.MustCompile(`(?i)\b(?:did|done|completed|finished)\s+(\d+)\b|\b(\d+)\s+(?:did|done|completed|finished)\b`)
	bareCountRe = regexp.MustCompile(`(?:^|\s)(\d+)(?:$|[\s.,!?])`)
)

// ExtractCount finds a count in a completion note. A number next to a verb
// such as "did" or "completed" wins; otherwise the first standalone number
// is used. It returns nil when the note has no count.
func ExtractCount(note string) *int {
	if m := verbCountRe.FindStringSubmatch(note); m != nil {
		s := m[1]
		if s == "" {
			s = m[2]
		}
		if n, err := strconv.Atoi(s); err == nil {
			return &n
		}
	}
	if m := bareCountRe.FindStringSubmatch(note); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return &n
		}
	}
	return nil
}
