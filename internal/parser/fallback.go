package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/vitalcoach/internal/router"
	"github.com/haasonsaas/vitalcoach/internal/timeinfer"
)

var (
	bpRe       = regexp.MustCompile(`\b(\d{2,3})\s*/\s*(\d{2,3})\b`)
	weightRe   = regexp.MustCompile(`\b(\d{2,3}(?:\.\d+)?)\s*(lbs?|pounds?|kgs?|kilos?|kilograms?)\b`)
	hrRe       = regexp.MustCompile(`\b(?:heart rate|pulse|hr)\D{0,10}(\d{2,3})\b`)
	durationRe = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*(hours?|hrs?|minutes?|mins?)\b`)
	volumeRe   = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*(ml|milliliters?|l\b|liters?|litres?|oz|ounces?|cups?|glass(?:es)?|bottles?)`)
	countedRe  = regexp.MustCompile(`\b(a|an|one|two|three|\d+)\s+(cups?|glass(?:es)?|bottles?|liters?|litres?)\b`)
)

// mealLabels in match-priority order; "brunch" before "lunch" so the
// substring check lands on the right one.
var mealLabels = []string{"breakfast", "brunch", "lunch", "dinner", "supper", "snack"}

var exerciseTypes = []string{
	"running", "ran", "walk", "jog", "cycling", "biked", "bike", "swimming",
	"swam", "yoga", "pilates", "lifting", "lifted", "strength", "gym",
	"workout", "hike", "rowing", "elliptical", "tennis", "basketball",
}

// canonical exercise names for conjugated cues.
var exerciseCanonical = map[string]string{
	"ran": "running", "jog": "jogging", "biked": "cycling", "bike": "cycling",
	"swam": "swimming", "lifted": "strength training", "lifting": "strength training",
	"gym": "strength training", "walk": "walking", "hike": "hiking",
}

var supplementNames = []string{
	"magnesium", "vitamin d", "vitamin c", "vitamin b12", "vitamin b",
	"fish oil", "omega-3", "omega 3", "creatine", "zinc", "iron", "calcium",
	"probiotic", "melatonin", "multivitamin", "potassium", "ashwagandha",
	"turmeric", "coq10", "glucosamine",
}

const (
	mlPerCup    = 250
	mlPerGlass  = 250
	mlPerBottle = 500
	mlPerLiter  = 1000
	mlPerOz     = 30
	kgPerLb     = 0.453592
)

// Fallback extracts what deterministic patterns can reach for the
// category. Every object carries the fallback marker note.
func Fallback(message string, category router.Category) map[string]any {
	lower := strings.ToLower(message)
	obj := map[string]any{"notes": fallbackNote}
	if h, m, ok := timeinfer.ParseClock(lower); ok {
		obj["logged_at"] = clockString(h, m)
	}

	switch category {
	case router.LogFood:
		fallbackFood(lower, obj)
	case router.LogVitals:
		fallbackVitals(lower, obj)
	case router.LogExercise:
		fallbackExercise(lower, obj)
	case router.LogSupplement:
		fallbackSupplement(lower, obj)
	case router.LogFasting:
		fallbackFasting(lower, obj)
	case router.LogSleep:
		fallbackSleep(lower, obj)
	case router.LogHydration:
		fallbackHydration(lower, obj)
	default:
		return nil
	}
	return obj
}

func fallbackFood(lower string, obj map[string]any) {
	for _, label := range mealLabels {
		if strings.Contains(lower, label) {
			if label == "supper" {
				label = "dinner"
			}
			obj["meal_label"] = label
			break
		}
	}
	if _, ok := obj["meal_label"]; !ok {
		obj["meal_label"] = "snack"
	}
}

func fallbackVitals(lower string, obj map[string]any) {
	if m := bpRe.FindStringSubmatch(lower); m != nil {
		sys, _ := strconv.Atoi(m[1])
		dia, _ := strconv.Atoi(m[2])
		if sys > dia && sys >= 50 && sys <= 300 && dia >= 30 && dia <= 200 {
			obj["bp_systolic"] = sys
			obj["bp_diastolic"] = dia
		}
	}
	if m := hrRe.FindStringSubmatch(lower); m != nil {
		if hr, err := strconv.Atoi(m[1]); err == nil && hr >= 20 && hr <= 260 {
			obj["heart_rate"] = hr
		}
	}
	if m := weightRe.FindStringSubmatch(lower); m != nil {
		w, _ := strconv.ParseFloat(m[1], 64)
		if strings.HasPrefix(m[2], "lb") || strings.HasPrefix(m[2], "pound") {
			w *= kgPerLb
		}
		obj["weight_kg"] = round1(w)
	}
}

func fallbackExercise(lower string, obj map[string]any) {
	for _, cue := range exerciseTypes {
		if strings.Contains(lower, cue) {
			name := cue
			if canonical, ok := exerciseCanonical[cue]; ok {
				name = canonical
			}
			obj["exercise_type"] = name
			break
		}
	}
	if m := durationRe.FindStringSubmatch(lower); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		if strings.HasPrefix(m[2], "h") {
			v *= 60
		}
		obj["duration_minutes"] = int(v)
	}
	if strings.Contains(lower, "intense") || strings.Contains(lower, "hard") {
		obj["intensity"] = "high"
	} else if strings.Contains(lower, "easy") || strings.Contains(lower, "light") {
		obj["intensity"] = "low"
	}
}

func fallbackSupplement(lower string, obj map[string]any) {
	var items []any
	for _, name := range supplementNames {
		if strings.Contains(lower, name) {
			items = append(items, map[string]any{"name": name})
		}
	}
	if len(items) > 0 {
		obj["items"] = items
	}
}

func fallbackFasting(lower string, obj map[string]any) {
	ending := strings.Contains(lower, "broke my fast") ||
		strings.Contains(lower, "breaking my fast") ||
		strings.Contains(lower, "ended my fast") ||
		strings.Contains(lower, "first meal")
	if ending {
		obj["action"] = "end"
		if t, ok := clockAfter(lower, "first meal"); ok {
			obj["fast_end"] = t
		} else if t, ok := obj["logged_at"]; ok {
			obj["fast_end"] = t
		}
		return
	}
	obj["action"] = "start"
	if t, ok := clockAfter(lower, "last meal"); ok {
		obj["fast_start"] = t
	} else if t, ok := obj["logged_at"]; ok {
		obj["fast_start"] = t
	}
}

func fallbackSleep(lower string, obj map[string]any) {
	if t, ok := clockAfter(lower, "went to bed", "bed at", "asleep"); ok {
		obj["sleep_start"] = t
	}
	if t, ok := clockAfter(lower, "woke up", "woke", "up at"); ok {
		obj["sleep_end"] = t
	}
	// A bare range like "slept 11 to 7" yields two clock tokens in order.
	if _, hasStart := obj["sleep_start"]; !hasStart {
		if start, end, ok := clockPair(lower); ok {
			obj["sleep_start"] = start
			obj["sleep_end"] = end
		}
	}
	if strings.Contains(lower, "badly") || strings.Contains(lower, "poor") || strings.Contains(lower, "terrible") {
		obj["quality"] = "poor"
	} else if strings.Contains(lower, "great") || strings.Contains(lower, "well") {
		obj["quality"] = "good"
	}
}

// NormalizeSleep post-processes a sleep parse: empty fields are dropped,
// bed/wake cues and clock ranges fill missing start/end, and a bare
// "slept N hours" derives the start from the end. A still-missing end
// defaults to the event instant.
func NormalizeSleep(message string, obj map[string]any, eventUTC time.Time) {
	lower := strings.ToLower(message)
	for _, key := range []string{"sleep_start", "sleep_end", "quality"} {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) == "" {
			delete(obj, key)
		}
	}
	if _, ok := obj["sleep_start"]; !ok {
		if t, found := clockAfter(lower, "went to bed", "bed at", "asleep"); found {
			obj["sleep_start"] = t
		}
	}
	if _, ok := obj["sleep_end"]; !ok {
		if t, found := clockAfter(lower, "woke up", "woke", "up at"); found {
			obj["sleep_end"] = t
		}
	}
	_, hasStart := obj["sleep_start"]
	_, hasEnd := obj["sleep_end"]
	if !hasStart && !hasEnd {
		if start, end, ok := clockPair(lower); ok {
			obj["sleep_start"] = start
			obj["sleep_end"] = end
			hasStart, hasEnd = true, true
		}
	}
	if !hasEnd {
		obj["sleep_end"] = eventUTC.UTC().Format(time.RFC3339)
	}
	if !hasStart {
		if m := durationRe.FindStringSubmatch(lower); m != nil {
			v, _ := strconv.ParseFloat(m[1], 64)
			if strings.HasPrefix(m[2], "h") {
				v *= 60
			}
			dur := time.Duration(v) * time.Minute
			if end, ok := obj["sleep_end"].(string); ok && dur > 0 {
				if t, err := time.Parse(time.RFC3339, end); err == nil {
					obj["sleep_start"] = t.Add(-dur).Format(time.RFC3339)
				} else if h, min, ok := timeinfer.ParseClock(end); ok {
					durMin := int(dur.Minutes()) % 1440
					total := (h*60 + min - durMin + 1440) % 1440
					obj["sleep_start"] = clockString(total/60, total%60)
				}
			}
		}
	}
}

func fallbackHydration(lower string, obj map[string]any) {
	if m := volumeRe.FindStringSubmatch(lower); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		obj["amount_ml"] = v * unitToML(m[2])
		return
	}
	if m := countedRe.FindStringSubmatch(lower); m != nil {
		obj["amount_ml"] = countWord(m[1]) * unitToML(m[2])
	}
}

func unitToML(unit string) float64 {
	switch {
	case strings.HasPrefix(unit, "ml") || strings.HasPrefix(unit, "millil"):
		return 1
	case strings.HasPrefix(unit, "l"):
		return mlPerLiter
	case strings.HasPrefix(unit, "oz") || strings.HasPrefix(unit, "ounce"):
		return mlPerOz
	case strings.HasPrefix(unit, "cup"):
		return mlPerCup
	case strings.HasPrefix(unit, "glass"):
		return mlPerGlass
	case strings.HasPrefix(unit, "bottle"):
		return mlPerBottle
	}
	return 1
}

func countWord(w string) float64 {
	switch w {
	case "a", "an", "one":
		return 1
	case "two":
		return 2
	case "three":
		return 3
	}
	v, err := strconv.ParseFloat(w, 64)
	if err != nil {
		return 1
	}
	return v
}

// clockAfter finds the first clock token following any of the cues.
func clockAfter(lower string, cues ...string) (string, bool) {
	for _, cue := range cues {
		idx := strings.Index(lower, cue)
		if idx < 0 {
			continue
		}
		tail := lower[idx+len(cue):]
		if len(tail) > 30 {
			tail = tail[:30]
		}
		if h, m, ok := timeinfer.ParseClock(tail); ok {
			return clockString(h, m), true
		}
	}
	return "", false
}

var rangeRe = regexp.MustCompile(`\b(\d{1,2}(?::\d{2})?\s*(?:am|pm)?)\s*(?:to|until|-|till)\s*(\d{1,2}(?::\d{2})?\s*(?:am|pm)?)\b`)

// clockPair extracts a "X to Y" range. Meridiem-less hours lean on sleep
// convention: the start is an evening hour unless marked am.
func clockPair(lower string) (string, string, bool) {
	m := rangeRe.FindStringSubmatch(lower)
	if m == nil {
		return "", "", false
	}
	sh, sm, ok := timeinfer.ParseClock(forceClock(m[1], true))
	if !ok {
		return "", "", false
	}
	eh, em, ok := timeinfer.ParseClock(forceClock(m[2], false))
	if !ok {
		return "", "", false
	}
	return clockString(sh, sm), clockString(eh, em), true
}

// forceClock appends a meridiem to a bare hour so ParseClock accepts it:
// starts default to pm (went to bed), ends default to am (woke up).
func forceClock(token string, start bool) string {
	token = strings.TrimSpace(token)
	if strings.Contains(token, "am") || strings.Contains(token, "pm") {
		return token
	}
	if !strings.Contains(token, ":") {
		token += ":00"
	}
	if start {
		return token + "pm"
	}
	return token + "am"
}

func clockString(h, m int) string {
	return pad2(h) + ":" + pad2(m)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
