package prebar

import (
	"testing"
)

func TestBoundary_FiresOncePerBar(t *testing.T) {
	b := NewBoundary(5)

	base := mskTime(10, 0, 30, 0)
	if b.Observe(base) {
		t.Error("first observation only arms the tracker")
	}
	if b.Observe(mskTime(10, 3, 0, 0)) {
		t.Error("mid-bar must not fire")
	}
	if !b.Observe(mskTime(10, 5, 0, 200)) {
		t.Error("crossing 10:05 must fire")
	}
	if b.Observe(mskTime(10, 5, 30, 0)) {
		t.Error("same bar must not fire twice")
	}
	if !b.Observe(mskTime(10, 10, 1, 0)) {
		t.Error("next boundary must fire again")
	}
}

func TestBoundary_ZeroBarLength(t *testing.T) {
	b := NewBoundary(0)
	if b.Observe(mskTime(10, 5, 0, 0)) {
		t.Error("zero bar length never fires")
	}
}
