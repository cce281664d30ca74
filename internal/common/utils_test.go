package common

import "testing"

func TestHasAny(t *testing.T) {
	if !HasAny("application/json; charset=utf-8", "xml", "json") {
		t.Fatalf("expected json to match")
	}
	if HasAny("text/html", "json", "javascript") {
		t.Fatalf("expected no match")
	}
	if HasAny("anything") {
		t.Fatalf("expected no match without substrings")
	}
}
