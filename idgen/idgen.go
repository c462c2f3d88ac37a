// Package idgen produces the run identifiers recorded in the journal and
// the report. Run IDs are UUIDv7 so that lexical order is start order.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Sequence returns a Generator that hands out ids in order and then repeats
// the last one. Tests use it for stable run ids.
func Sequence(ids ...string) Generator {
	i := 0
	return func() string {
		id := ids[min(i, len(ids)-1)]
		i++
		return id
	}
}

// Default is the generator used for new runs.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a run id and returns its canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid run id: %w", err)
	}
	return u.String(), nil
}
