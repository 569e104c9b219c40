// Package structured canonicalizes the medication and supplement lists
// stored on user settings. Every write flows through Canonicalize so the
// persisted JSON is always an array of {name, dose, timing} objects and
// never contains generic placeholders like "my meds".
package structured

import (
	"encoding/json"
	"strings"
)

// Item is one canonical medication or supplement entry.
type Item struct {
	Name   string `json:"name"`
	Dose   string `json:"dose,omitempty"`
	Timing string `json:"timing,omitempty"`
}

// placeholderPhrases are generic references that must never be stored as
// item names. Matching is case-insensitive on the normalized name.
var placeholderPhrases = []string{
	"my meds", "my medications", "my medication", "my pills",
	"my supplements", "my supplement", "my vitamins",
	"morning meds", "evening meds", "night meds",
	"morning supplements", "evening supplements",
	"meds", "medications", "medication", "pills",
	"supplements", "supplement", "vitamins",
	"them", "those", "these", "it", "everything", "all of them",
	"the usual", "usual",
}

// IsPlaceholder reports whether name is a generic reference rather than a
// concrete item name.
func IsPlaceholder(name string) bool {
	n := normalizeName(name)
	if n == "" {
		return true
	}
	for _, p := range placeholderPhrases {
		if n == p {
			return true
		}
	}
	return false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Canonicalize filters, trims, and de-duplicates items. Later entries win on
// dose/timing when the name collides, but an empty dose or timing never
// overwrites a non-empty one. Order of first appearance is preserved.
func Canonicalize(items []Item) []Item {
	out := make([]Item, 0, len(items))
	index := make(map[string]int, len(items))

	for _, it := range items {
		name := strings.TrimSpace(it.Name)
		if IsPlaceholder(name) {
			continue
		}
		key := normalizeName(name)
		if i, ok := index[key]; ok {
			if d := strings.TrimSpace(it.Dose); d != "" {
				out[i].Dose = d
			}
			if tm := strings.TrimSpace(it.Timing); tm != "" {
				out[i].Timing = tm
			}
			continue
		}
		index[key] = len(out)
		out = append(out, Item{
			Name:   name,
			Dose:   strings.TrimSpace(it.Dose),
			Timing: strings.TrimSpace(it.Timing),
		})
	}
	return out
}

// Merge combines existing items with updates. Updates may add new items or
// refine dose/timing on existing ones; they never remove items.
func Merge(existing, updates []Item) []Item {
	return Canonicalize(append(append([]Item{}, existing...), updates...))
}

// Parse decodes a stored JSON array. It tolerates legacy plain-string
// entries ("Vitamin D 2000IU") by treating the whole string as the name.
// A nil or empty column yields an empty slice, never an error.
func Parse(raw string) ([]Item, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return []Item{}, nil
	}

	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		return Canonicalize(items), nil
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, err
	}
	items = make([]Item, 0, len(names))
	for _, n := range names {
		items = append(items, Item{Name: n})
	}
	return Canonicalize(items), nil
}

// Serialize encodes items to the canonical stored form. The result is a
// fixed point: Parse(Serialize(x)) re-serializes to the same bytes.
func Serialize(items []Item) (string, error) {
	data, err := json.Marshal(Canonicalize(items))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Names returns the item names in order.
func Names(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

// FindByName returns the item with a case-insensitive name match.
func FindByName(items []Item, name string) (Item, bool) {
	key := normalizeName(name)
	for _, it := range items {
		if normalizeName(it.Name) == key {
			return it, true
		}
	}
	return Item{}, false
}
