package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/quantumlife/habits/internal/core"
)

var (
	leadInRe   = regexp.MustCompile(`(?i)^\s*[!/]?\s*(?:(?:create|add|new)\s+habit\b\s*:?|habit\s*:|create\b\s*:?|add\b\s*:?)\s*`)
	xpRe       = regexp.MustCompile(`(?i)\(?\s*(\d+)\s*xp\s*\)?`)
	durationRe = regexp.MustCompile(`(?i)\b(\d+)\s*(minutes?|mins?|hours?|hrs?)\b`)
	everyRe    = regexp.MustCompile(`(?i)\bevery\s+(\d+)\s*(minutes?|mins?|hours?|hrs?)\b`)
	atTimeRe   = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})(?::(\d{2}))?\s*(a\.?m\.?|p\.?m\.?)?\b`)
	bareTimeRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	freqRe     = regexp.MustCompile(`(?i)\b(daily|every\s*day|each\s+day|weekly|every\s+week|monthly|every\s+month)\b`)
	weekdayRe  = regexp.MustCompile(`(?i)\b(?:on|every)\s+(sunday|monday|tuesday|wednesday|thursday|friday|saturday)s?\b`)
	forRe      = regexp.MustCompile(`(?i)\bfor\s+([^\d\s].*)$`)
	forWordRe  = regexp.MustCompile(`(?i)\bfor\b`)
	dashRe     = regexp.MustCompile(`\s-\s+(.+)$`)
	wordRe     = regexp.MustCompile(`[\p{L}][\p{L}'-]*`)
	fillerRe   = regexp.MustCompile(`(?i)^(?:to|a|an|the|my)\s+`)
	nameCharRe = regexp.MustCompile(`[^\p{L}\p{N}\s'&+-]`)
)

var weekdays = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

// State is the text a rule inspects.
type State struct {
	// Input is the text exactly as given.
	Input string
	// Text is the input with command lead-ins removed.
	Text string
}

func newState(input string) *State {
	text := input
	for {
		loc := leadInRe.FindStringIndex(text)
		if loc == nil || loc[1] == 0 {
			break
		}
		text = text[loc[1]:]
	}
	return &State{Input: input, Text: strings.TrimSpace(text)}
}

// Fragment is the optional structured output of one rule. Zero values mean
// the rule found nothing for that field.
type Fragment struct {
	Name            string
	Description     string
	XP              *int
	DurationMinutes *int
	Hour            *int
	Minute          *int
	IntervalMinutes *int
	Frequency       core.Scale
	Weekday         *int
	Category        core.Category
	TracksCount     bool
}

// merge overlays f onto dst, keeping values already present in dst.
func (dst *Fragment) merge(f Fragment) {
	if dst.Name == "" {
		dst.Name = f.Name
	}
	if dst.Description == "" {
		dst.Description = f.Description
	}
	if dst.XP == nil {
		dst.XP = f.XP
	}
	if dst.DurationMinutes == nil {
		dst.DurationMinutes = f.DurationMinutes
	}
	if dst.Hour == nil {
		dst.Hour, dst.Minute = f.Hour, f.Minute
	}
	if dst.IntervalMinutes == nil {
		dst.IntervalMinutes = f.IntervalMinutes
	}
	if dst.Frequency == "" {
		dst.Frequency = f.Frequency
	}
	if dst.Weekday == nil {
		dst.Weekday = f.Weekday
	}
	if dst.Category == "" {
		dst.Category = f.Category
	}
	dst.TracksCount = dst.TracksCount || f.TracksCount
}

// Rule extracts one kind of fragment from the text.
type Rule struct {
	Name    string
	Extract func(*State) Fragment
}

func intp(v int) *int { return &v }

// xpRule reads an explicit "(N xp)" reward override.
func xpRule(s *State) Fragment {
	m := xpRe.FindStringSubmatch(s.Text)
	if m == nil {
		return Fragment{}
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return Fragment{}
	}
	return Fragment{XP: intp(n)}
}

// durationRule reads "N minutes" or "N hours" that is not part of an
// "every N ..." interval.
func durationRule(s *State) Fragment {
	for _, m := range durationRe.FindAllStringSubmatchIndex(s.Text, -1) {
		if strings.HasSuffix(strings.ToLower(strings.TrimRight(s.Text[:m[0]], " \t")), "every") {
			continue
		}
		n, err := strconv.Atoi(s.Text[m[2]:m[3]])
		if err != nil || n <= 0 {
			continue
		}
		if isHourUnit(s.Text[m[4]:m[5]]) {
			n *= 60
		}
		return Fragment{DurationMinutes: intp(n)}
	}
	return Fragment{}
}

// intervalRule reads "every N minutes" or "every N hours".
func intervalRule(s *State) Fragment {
	m := everyRe.FindStringSubmatch(s.Text)
	if m == nil {
		return Fragment{}
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return Fragment{}
	}
	if isHourUnit(m[2]) {
		n *= 60
	}
	return Fragment{IntervalMinutes: intp(n)}
}

func isHourUnit(unit string) bool {
	return strings.HasPrefix(strings.ToLower(unit), "h")
}

// timeRule reads "at 7am", "at 7:30 pm", "at 19:00" or a bare "7pm".
// Impossible times are ignored.
func timeRule(s *State) Fragment {
	m := atTimeRe.FindStringSubmatch(s.Text)
	if m == nil {
		m = bareTimeRe.FindStringSubmatch(s.Text)
	}
	if m == nil {
		return Fragment{}
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return Fragment{}
	}
	suffix := strings.ToLower(strings.ReplaceAll(m[3], ".", ""))
	switch suffix {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return Fragment{}
		}
		hour %= 12
		if suffix == "pm" {
			hour += 12
		}
	default:
		if hour > 23 {
			return Fragment{}
		}
	}
	return Fragment{Hour: intp(hour), Minute: intp(minute)}
}

// frequencyRule reads daily, weekly and monthly keywords.
func frequencyRule(s *State) Fragment {
	m := freqRe.FindStringSubmatch(s.Text)
	if m == nil {
		return Fragment{}
	}
	word := strings.ToLower(m[1])
	switch {
	case strings.Contains(word, "week"):
		return Fragment{Frequency: core.ScaleWeekly}
	case strings.Contains(word, "month"):
		return Fragment{Frequency: core.ScaleMonthly}
	default:
		return Fragment{Frequency: core.ScaleDaily}
	}
}

// weekdayRule reads "on monday" or "every friday".
func weekdayRule(s *State) Fragment {
	m := weekdayRe.FindStringSubmatch(s.Text)
	if m == nil {
		return Fragment{}
	}
	return Fragment{Weekday: intp(weekdays[strings.ToLower(m[1])])}
}

func (p *Parser) categoryRule(s *State) Fragment {
	for _, w := range wordRe.FindAllString(strings.ToLower(s.Text), -1) {
		if c, ok := p.categories[w]; ok {
			return Fragment{Category: c}
		}
	}
	return Fragment{}
}

func (p *Parser) countRule(s *State) Fragment {
	for _, w := range wordRe.FindAllString(strings.ToLower(s.Text), -1) {
		if p.countWords[w] {
			return Fragment{TracksCount: true}
		}
	}
	return Fragment{}
}

// descriptionRule takes the text after " - ", or after a "for" clause that
// is not a duration, up to the next schedule marker.
func descriptionRule(s *State) Fragment {
	if m := dashRe.FindStringSubmatch(s.Text); m != nil {
		return Fragment{Description: strings.TrimSpace(m[1])}
	}
	m := forRe.FindStringSubmatch(s.Text)
	if m == nil {
		return Fragment{}
	}
	desc := m[1]
	if i := firstMarker(desc, false); i >= 0 {
		desc = desc[:i]
	}
	return Fragment{Description: strings.Trim(desc, " \t,.;:")}
}

// nameRule takes the words before the first duration, time, reward or
// description marker.
func (p *Parser) nameRule(s *State) Fragment {
	name := s.Text
	if i := firstMarker(name, true); i >= 0 {
		name = name[:i]
	}
	name = fillerRe.ReplaceAllString(strings.TrimSpace(name), "")
	return Fragment{Name: p.sanitize(name)}
}

// firstMarker returns the index of the earliest marker in text, or -1.
func firstMarker(text string, withFor bool) int {
	res := []*regexp.Regexp{xpRe, durationRe, everyRe, atTimeRe, bareTimeRe, freqRe, weekdayRe, dashRe}
	if withFor {
		res = append(res, forWordRe)
	}
	first := -1
	for _, re := range res {
		if loc := re.FindStringIndex(text); loc != nil && (first < 0 || loc[0] < first) {
			first = loc[0]
		}
	}
	return first
}

func (p *Parser) sanitize(name string) string {
	name = nameCharRe.ReplaceAllString(name, "")
	name = strings.Join(strings.Fields(name), " ")
	name = strings.Trim(name, " -'&+")
	if r := []rune(name); len(r) > p.cfg.MaxNameLength {
		name = strings.TrimSpace(string(r[:p.cfg.MaxNameLength]))
	}
	return name
}
