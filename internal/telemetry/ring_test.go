package telemetry_test

import (
	"slices"
	"strconv"
	"testing"

	"streamhost/internal/telemetry"
)

func TestRingKeepsNewestLines(t *testing.T) {
	r := telemetry.NewRing(3)
	for i := 1; i <= 5; i++ {
		r.Push("line" + strconv.Itoa(i))
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d", r.Len())
	}
	if got := r.Lines(); !slices.Equal(got, []string{"line3", "line4", "line5"}) {
		t.Fatalf("Lines = %v", got)
	}
	if got := r.Last(2); !slices.Equal(got, []string{"line4", "line5"}) {
		t.Fatalf("Last(2) = %v", got)
	}
	if got := r.Last(10); len(got) != 3 {
		t.Fatalf("Last(10) = %v", got)
	}
	r.Reset()
	if r.Len() != 0 || r.Lines() != nil {
		t.Fatal("Reset left lines behind")
	}
}

func TestRingDefaultCapacity(t *testing.T) {
	r := telemetry.NewRing(0)
	for i := 0; i < 60; i++ {
		r.Push(strconv.Itoa(i))
	}
	if r.Len() != telemetry.DefaultRingSize {
		t.Fatalf("Len = %d, want %d", r.Len(), telemetry.DefaultRingSize)
	}
	if r.Lines()[0] != "10" {
		t.Fatalf("oldest line = %q", r.Lines()[0])
	}
}
