package structured

import "testing"

func TestCanonicalizeFiltersPlaceholders(t *testing.T) {
	items := Canonicalize([]Item{
		{Name: "my meds"},
		{Name: "Lisinopril", Dose: "10mg", Timing: "morning"},
		{Name: "  "},
		{Name: "morning supplements"},
		{Name: "Vitamin D", Dose: "2000IU"},
	})

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d: %+v", len(items), items)
	}
	if items[0].Name != "Lisinopril" || items[1].Name != "Vitamin D" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestCanonicalizeMergesDuplicates(t *testing.T) {
	items := Canonicalize([]Item{
		{Name: "Magnesium", Dose: "200mg"},
		{Name: "magnesium", Timing: "bedtime"},
		{Name: "MAGNESIUM", Dose: ""},
	})

	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	got := items[0]
	if got.Name != "Magnesium" || got.Dose != "200mg" || got.Timing != "bedtime" {
		t.Fatalf("merge lost fields: %+v", got)
	}
}

func TestMergeNeverRemoves(t *testing.T) {
	existing := []Item{{Name: "Lisinopril", Dose: "10mg"}}
	merged := Merge(existing, []Item{{Name: "Omega-3"}})

	if len(merged) != 2 {
		t.Fatalf("expected 2 items, got %d", len(merged))
	}
}

func TestSerializeParseFixedPoint(t *testing.T) {
	items := []Item{
		{Name: "Vitamin D", Dose: "2000IU", Timing: "morning"},
		{Name: "Omega-3"},
	}

	first, err := Serialize(items)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	parsed, err := Parse(first)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	second, err := Serialize(parsed)
	if err != nil {
		t.Fatalf("Serialize again: %v", err)
	}
	if first != second {
		t.Fatalf("round trip is not a fixed point:\n%s\n%s", first, second)
	}
}

func TestParseLegacyStringArray(t *testing.T) {
	items, err := Parse(`["Vitamin C", "Zinc"]`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(items) != 2 || items[0].Name != "Vitamin C" || items[1].Name != "Zinc" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestParseEmpty(t *testing.T) {
	for _, raw := range []string{"", "  ", "null", "[]"} {
		items, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", raw, err)
		}
		if len(items) != 0 {
			t.Fatalf("Parse(%q): expected empty, got %+v", raw, items)
		}
	}
}

func TestFindByName(t *testing.T) {
	items := []Item{{Name: "Lisinopril", Dose: "10mg"}}

	if _, ok := FindByName(items, "lisinopril"); !ok {
		t.Fatal("case-insensitive lookup failed")
	}
	if _, ok := FindByName(items, "metformin"); ok {
		t.Fatal("unexpected match")
	}
}
