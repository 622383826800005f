package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a := NewID("obs")
	b := NewID("obs")
	if a == b {
		t.Fatal("expected unique ids")
	}
	if !strings.HasPrefix(a, "obs_") || len(a) != len("obs_")+36 {
		t.Fatalf("unexpected id %q", a)
	}
	if len(NewID("")) != 36 {
		t.Fatal("unprefixed id should be a bare uuid")
	}
}
