package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if len(id) != 36 || len(strings.Split(id, "-")) != 5 {
		t.Fatalf("UUIDv7: bad format %q", id)
	}
	if v := uuid.MustParse(id).Version(); v != 7 {
		t.Fatalf("version %d", v)
	}
}

func TestUUIDv7_Ordered(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		id := gen()
		if id <= prev {
			t.Fatalf("not increasing: %s after %s", id, prev)
		}
		prev = id
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("a", "b")
	if got := []string{gen(), gen(), gen()}; strings.Join(got, ",") != "a,b,b" {
		t.Fatalf("sequence: %v", got)
	}
}

func TestParse(t *testing.T) {
	id := New()
	if got, err := Parse(strings.ToUpper(id)); err != nil || got != id {
		t.Fatalf("Parse(%s) = %s, %v", id, got, err)
	}
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error for invalid id")
	}
}
