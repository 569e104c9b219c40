// Package timeinfer maps free-form date/time phrases in a user message to a
// UTC instant with a confidence tag. The orchestrator uses the confidence to
// decide whether a saved log needs an out-of-band time confirmation.
package timeinfer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Confidence grades how certain the inference is.
type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
	Low    Confidence = "low"
)

// Rank orders confidences for min-combining: low < medium < high.
func (c Confidence) Rank() int {
	switch c {
	case High:
		return 2
	case Medium:
		return 1
	default:
		return 0
	}
}

// Min returns the lower of two confidences.
func Min(a, b Confidence) Confidence {
	if a.Rank() < b.Rank() {
		return a
	}
	return b
}

// Result is the outcome of inferring an event instant from text.
type Result struct {
	EventUTC        time.Time
	Confidence      Confidence
	DateConfidence  Confidence
	TimeConfidence  Confidence
	Reason          string
	HadExplicitDate bool
	HadExplicitTime bool
}

// Canonical local times for meal-name cues without a clock.
var mealAnchors = []struct {
	cue    string
	hour   int
	minute int
}{
	{"breakfast", 8, 0},
	{"brunch", 11, 0},
	{"lunch", 12, 30},
	{"afternoon", 15, 0},
	{"dinner", 18, 30},
	{"supper", 18, 30},
	{"bedtime", 22, 0},
	{"night", 22, 0},
}

var (
	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	monthDateRe = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s*(\d{4}))?\b`)

	clockRe     = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm|a\.m\.|p\.m\.)?\b`)
	bareHourRe  = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm|a\.m\.|p\.m\.)\b`)
	pastTenseRe = regexp.MustCompile(`\b(had|ate|took|drank|did|went|finished|was|logged|completed|ran|walked|woke)\b`)
	nowRe       = regexp.MustCompile(`\bnow\b`)
)

var monthIndex = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

// earlyMorningCutoffHour bounds the carry-back window: before 04:00 local,
// past-tense meal or PM-clock references resolve to the previous day.
const earlyMorningCutoffHour = 4

// Infer resolves text to an event instant against a reference instant and
// the user's IANA timezone. The zero Result is never returned; when nothing
// in the text constrains the time, the reference instant is used with low
// time confidence.
func Infer(text string, referenceUTC time.Time, tzName string) Result {
	loc, err := time.LoadLocation(strings.TrimSpace(tzName))
	if err != nil || tzName == "" {
		loc = time.UTC
	}
	local := referenceUTC.In(loc)
	lower := strings.ToLower(text)

	date, dateConf, dateReason, explicitDate := inferDate(lower, local)
	hour, minute, timeConf, timeReason, explicitTime := inferClock(lower, local)

	// "now" with an explicit clock pins both halves: the user is talking
	// about the present day at a stated time.
	if !explicitDate && explicitTime && nowRe.MatchString(lower) && sameDate(date, local) {
		dateConf = High
		dateReason = "now with explicit clock"
	}

	// Early-morning carry-back: a past-tense meal reference or an explicit PM
	// clock before 04:00 local belongs to the previous local day.
	if !explicitDate && local.Hour() < earlyMorningCutoffHour && sameDate(date, local) {
		past := pastTenseRe.MatchString(lower)
		pmClock := explicitTime && hour >= 12
		mealRef := strings.Contains(lower, "this morning") || hasMealCue(lower)
		if past && (mealRef || pmClock) {
			date = date.AddDate(0, 0, -1)
			dateConf = Medium
			dateReason = "carried back to previous day"
		}
	}

	event := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)

	combined := Min(dateConf, timeConf)
	return Result{
		EventUTC:        event.UTC(),
		Confidence:      combined,
		DateConfidence:  dateConf,
		TimeConfidence:  timeConf,
		Reason:          fmt.Sprintf("date:%s,time:%s", dateReason, timeReason),
		HadExplicitDate: explicitDate,
		HadExplicitTime: explicitTime,
	}
}

func inferDate(lower string, local time.Time) (time.Time, Confidence, string, bool) {
	if m := isoDateRe.FindStringSubmatch(lower); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if validDate(y, mo, d) {
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, local.Location()), High, "explicit ISO date", true
		}
	}
	if m := monthDateRe.FindStringSubmatch(lower); m != nil {
		mo := monthIndex[m[1]]
		d, _ := strconv.Atoi(m[2])
		y := local.Year()
		if m[3] != "" {
			y, _ = strconv.Atoi(m[3])
		}
		if validDate(y, int(mo), d) {
			return time.Date(y, mo, d, 0, 0, 0, 0, local.Location()), High, "explicit month date", true
		}
	}
	if m := slashDateRe.FindStringSubmatch(lower); m != nil {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		y := local.Year()
		if m[3] != "" {
			y, _ = strconv.Atoi(m[3])
			if y < 100 {
				y += 2000
			}
		}
		if validDate(y, mo, d) {
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, local.Location()), High, "explicit slash date", true
		}
	}

	if strings.Contains(lower, "yesterday") || strings.Contains(lower, "last night") {
		d := local.AddDate(0, 0, -1)
		return startOfDay(d), Medium, "relative yesterday", false
	}
	if strings.Contains(lower, "tomorrow") {
		d := local.AddDate(0, 0, 1)
		return startOfDay(d), Medium, "relative tomorrow", false
	}

	return startOfDay(local), Medium, "assumed today", false
}

func inferClock(lower string, local time.Time) (int, int, Confidence, string, bool) {
	if m := clockRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		h = applyMeridiem(h, m[3])
		if h >= 0 && h < 24 && mi >= 0 && mi < 60 {
			return h, mi, High, "explicit clock", true
		}
	}
	if m := bareHourRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		h = applyMeridiem(h, m[2])
		if h >= 0 && h < 24 {
			return h, 0, High, "explicit clock", true
		}
	}

	if strings.Contains(lower, "just now") || nowRe.MatchString(lower) {
		return local.Hour(), local.Minute(), Medium, "reference now", false
	}

	if strings.Contains(lower, "this morning") || strings.Contains(lower, "morning") {
		if hasMealCue(lower) {
			h, mi := mealAnchor(lower)
			return h, mi, Medium, "meal anchor", false
		}
		return 8, 0, Medium, "morning anchor", false
	}

	if hasMealCue(lower) {
		h, mi := mealAnchor(lower)
		return h, mi, Medium, "meal anchor", false
	}

	if strings.Contains(lower, "earlier") || strings.Contains(lower, "a while ago") {
		return local.Hour(), local.Minute(), Low, "vague past reference", false
	}

	return local.Hour(), local.Minute(), Low, "no time cue, used reference", false
}

func applyMeridiem(h int, meridiem string) int {
	switch strings.ReplaceAll(strings.ToLower(meridiem), ".", "") {
	case "pm":
		if h < 12 {
			h += 12
		}
	case "am":
		if h == 12 {
			h = 0
		}
	}
	return h
}

func hasMealCue(lower string) bool {
	for _, a := range mealAnchors {
		if strings.Contains(lower, a.cue) {
			return true
		}
	}
	return false
}

func mealAnchor(lower string) (int, int) {
	for _, a := range mealAnchors {
		if strings.Contains(lower, a.cue) {
			return a.hour, a.minute
		}
	}
	return 12, 0
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func validDate(y, mo, d int) bool {
	return y >= 2000 && y <= 2100 && mo >= 1 && mo <= 12 && d >= 1 && d <= 31
}

// ParseClock extracts a bare clock token (e.g. "14:30", "8:30pm", "7am")
// from text. Returns hour, minute, and whether a token was found.
func ParseClock(text string) (int, int, bool) {
	lower := strings.ToLower(text)
	if m := clockRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		h = applyMeridiem(h, m[3])
		if h >= 0 && h < 24 && mi >= 0 && mi < 60 {
			return h, mi, true
		}
	}
	if m := bareHourRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		h = applyMeridiem(h, m[2])
		if h >= 0 && h < 24 {
			return h, 0, true
		}
	}
	return 0, 0, false
}

// HasDateToken reports whether text carries an explicit or relative date.
func HasDateToken(text string) bool {
	lower := strings.ToLower(text)
	return isoDateRe.MatchString(lower) || slashDateRe.MatchString(lower) ||
		monthDateRe.MatchString(lower) ||
		strings.Contains(lower, "yesterday") || strings.Contains(lower, "tomorrow")
}

// ResolveClock places a clock reading on the reference instant's local day.
// When the resulting instant would be in the future relative to the
// reference, it rolls back one day; a logged event is always in the past.
func ResolveClock(hour, minute int, referenceUTC time.Time, tzName string) time.Time {
	loc, err := time.LoadLocation(strings.TrimSpace(tzName))
	if err != nil || tzName == "" {
		loc = time.UTC
	}
	local := referenceUTC.In(loc)
	event := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if event.After(local) {
		event = event.AddDate(0, 0, -1)
	}
	return event.UTC()
}
