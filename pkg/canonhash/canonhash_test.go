package canonhash

import "testing"

func TestSumObjectDeterministicForSameState(t *testing.T) {
	a := map[string]any{
		"b": 2,
		"a": map[string]any{"y": 2, "x": 1},
	}
	b := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": 2,
	}

	ha, _, err := SumObject(a)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	hb, _, err := SumObject(b)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected same hash, got %s vs %s", ha, hb)
	}
}

func TestSumObjectChangesWhenStateChanges(t *testing.T) {
	a := map[string]any{"a": 1}
	b := map[string]any{"a": 2}
	ha, _, _ := SumObject(a)
	hb, _, _ := SumObject(b)
	if ha == hb {
		t.Fatalf("expected different hashes")
	}
}

func TestStringifySortsNestedKeysWithoutWhitespace(t *testing.T) {
	got, err := Stringify(map[string]any{
		"project": map[string]any{"projectID": "p", "homepage": "https://example.com/?a=1&b=<2>"},
		"FORM":    "private license",
		"price":   500,
		"list":    []any{"z", map[string]any{"b": true, "a": nil}},
	})
	if err != nil {
		t.Fatalf("Stringify: %v", err)
	}
	want := `{"FORM":"private license","list":["z",{"a":null,"b":true}],"price":500,"project":{"homepage":"https://example.com/?a=1&b=<2>","projectID":"p"}}`
	if got != want {
		t.Fatalf("unexpected canonical form:\n got %s\nwant %s", got, want)
	}
}

func TestStringifyUsesStructTags(t *testing.T) {
	type party struct {
		Name         string `json:"name"`
		Jurisdiction string `json:"jurisdiction"`
	}
	got, err := Stringify(struct {
		Licensee party  `json:"licensee"`
		Date     string `json:"date"`
	}{Licensee: party{Name: "SomeCo, Inc.", Jurisdiction: "US-CA"}, Date: "2026-01-01T00:00:00.000Z"})
	if err != nil {
		t.Fatalf("Stringify: %v", err)
	}
	want := `{"date":"2026-01-01T00:00:00.000Z","licensee":{"jurisdiction":"US-CA","name":"SomeCo, Inc."}}`
	if got != want {
		t.Fatalf("unexpected canonical form: %s", got)
	}
}
