package timeinfer

import (
	"strings"
	"testing"
	"time"
)

const tzEdmonton = "America/Edmonton"

func mustLocal(t *testing.T, tz string, y int, mo time.Month, d, h, mi int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("LoadLocation(%s): %v", tz, err)
	}
	return time.Date(y, mo, d, h, mi, 0, 0, loc)
}

func TestMealAnchorBreakfast(t *testing.T) {
	ref := mustLocal(t, tzEdmonton, 2026, time.February, 21, 9, 0)

	res := Infer("I had oatmeal and coffee for breakfast", ref.UTC(), tzEdmonton)

	want := mustLocal(t, tzEdmonton, 2026, time.February, 21, 8, 0)
	if !res.EventUTC.Equal(want.UTC()) {
		t.Fatalf("event = %v, want %v", res.EventUTC, want.UTC())
	}
	if res.Confidence != Medium {
		t.Fatalf("confidence = %s, want medium", res.Confidence)
	}
	if res.HadExplicitTime {
		t.Fatal("breakfast anchor should not count as explicit time")
	}
}

func TestEarlyMorningCarryBack(t *testing.T) {
	ref := mustLocal(t, tzEdmonton, 2026, time.February, 22, 1, 30)

	res := Infer("Took my blood pressure meds at 8:30pm", ref.UTC(), tzEdmonton)

	want := mustLocal(t, tzEdmonton, 2026, time.February, 21, 20, 30)
	if !res.EventUTC.Equal(want.UTC()) {
		t.Fatalf("event = %v, want %v", res.EventUTC.In(want.Location()), want)
	}
	if !res.HadExplicitTime {
		t.Fatal("explicit clock not detected")
	}
	if !strings.Contains(res.Reason, "carried back") {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestVaguePastIsLowConfidence(t *testing.T) {
	ref := mustLocal(t, tzEdmonton, 2026, time.February, 21, 14, 0)

	res := Infer("I drank a protein shake earlier", ref.UTC(), tzEdmonton)

	if res.Confidence != Low {
		t.Fatalf("confidence = %s, want low", res.Confidence)
	}
}

func TestJustNow(t *testing.T) {
	ref := mustLocal(t, tzEdmonton, 2026, time.February, 21, 10, 15)

	res := Infer("bp 128/84 hr 72 just now", ref.UTC(), tzEdmonton)

	if !res.EventUTC.Equal(ref.UTC()) {
		t.Fatalf("event = %v, want reference %v", res.EventUTC, ref.UTC())
	}
	if res.Confidence != Medium {
		t.Fatalf("confidence = %s, want medium", res.Confidence)
	}
	if res.HadExplicitDate {
		t.Fatal("BP reading must not parse as a slash date")
	}
}

func TestExplicitISODate(t *testing.T) {
	ref := mustLocal(t, tzEdmonton, 2026, time.February, 21, 12, 0)

	res := Infer("ran 5k on 2026-02-19 at 7:00am", ref.UTC(), tzEdmonton)

	want := mustLocal(t, tzEdmonton, 2026, time.February, 19, 7, 0)
	if !res.EventUTC.Equal(want.UTC()) {
		t.Fatalf("event = %v, want %v", res.EventUTC, want.UTC())
	}
	if res.Confidence != High {
		t.Fatalf("confidence = %s, want high", res.Confidence)
	}
	if !res.HadExplicitDate || !res.HadExplicitTime {
		t.Fatal("explicit tokens not flagged")
	}
}

func TestYesterdayIsMedium(t *testing.T) {
	ref := mustLocal(t, tzEdmonton, 2026, time.February, 21, 12, 0)

	res := Infer("had pasta for dinner yesterday", ref.UTC(), tzEdmonton)

	want := mustLocal(t, tzEdmonton, 2026, time.February, 20, 18, 30)
	if !res.EventUTC.Equal(want.UTC()) {
		t.Fatalf("event = %v, want %v", res.EventUTC, want.UTC())
	}
	if res.DateConfidence != Medium {
		t.Fatalf("date confidence = %s, want medium", res.DateConfidence)
	}
}

// Adding an explicit clock or date token must never lower the combined
// confidence.
func TestMonotonicity(t *testing.T) {
	ref := mustLocal(t, tzEdmonton, 2026, time.February, 21, 14, 0)

	base := Infer("I drank a protein shake earlier", ref.UTC(), tzEdmonton)
	withClock := Infer("I drank a protein shake at 11:30am", ref.UTC(), tzEdmonton)
	withDate := Infer("I drank a protein shake earlier on 2026-02-20", ref.UTC(), tzEdmonton)

	if withClock.Confidence.Rank() < base.Confidence.Rank() {
		t.Fatalf("clock token lowered confidence: %s -> %s", base.Confidence, withClock.Confidence)
	}
	if withDate.Confidence.Rank() < base.Confidence.Rank() {
		t.Fatalf("date token lowered confidence: %s -> %s", base.Confidence, withDate.Confidence)
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in     string
		h, m   int
		wantOK bool
	}{
		{"at 8:30pm", 20, 30, true},
		{"14:05", 14, 5, true},
		{"7am", 7, 0, true},
		{"12am sharp", 0, 0, true},
		{"no clock here", 0, 0, false},
	}
	for _, tc := range cases {
		h, m, ok := ParseClock(tc.in)
		if ok != tc.wantOK || (ok && (h != tc.h || m != tc.m)) {
			t.Errorf("ParseClock(%q) = %d:%02d %v, want %d:%02d %v", tc.in, h, m, ok, tc.h, tc.m, tc.wantOK)
		}
	}
}

func TestResolveClockRollsBackFuture(t *testing.T) {
	ref := mustLocal(t, tzEdmonton, 2026, time.February, 22, 1, 30)

	got := ResolveClock(20, 30, ref.UTC(), tzEdmonton)

	want := mustLocal(t, tzEdmonton, 2026, time.February, 21, 20, 30)
	if !got.Equal(want.UTC()) {
		t.Fatalf("ResolveClock = %v, want %v", got, want.UTC())
	}
}

func TestInvalidTimezoneFallsBackToUTC(t *testing.T) {
	ref := time.Date(2026, time.February, 21, 9, 0, 0, 0, time.UTC)

	res := Infer("breakfast", ref, "Not/AZone")

	want := time.Date(2026, time.February, 21, 8, 0, 0, 0, time.UTC)
	if !res.EventUTC.Equal(want) {
		t.Fatalf("event = %v, want %v", res.EventUTC, want)
	}
}
