package store

import "testing"

func TestVectorLiteral(t *testing.T) {
	got := vectorLiteral([]float32{0.5, -1, 2})
	if got != "[0.5,-1,2]" {
		t.Fatalf("unexpected literal: %s", got)
	}
	if vectorLiteral(nil) != "[]" {
		t.Fatalf("expected empty brackets for nil embedding")
	}
}
