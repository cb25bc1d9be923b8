// Package suid implements sortable unique ids: event positions whose plain
// string order equals chronological order.
//
// An ID is 33 ASCII digits: a 13-digit zero-padded unix millisecond timestamp
// followed by a 20-digit zero-padded uniquifier. Comparing two ids with the
// ordinary string operators compares their timestamps first and breaks ties
// within one millisecond by the uniquifier.
package suid

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"
)

const (
	timeDigits   = 13
	suffixDigits = 20
	// Len is the length of every valid ID.
	Len = timeDigits + suffixDigits

	maxMillis = 9_999_999_999_999
)

var (
	ErrInvalid = errors.New("invalid sortable unique id")
)

// ID is a sortable unique id. The zero value is the empty id, which sorts
// before every valid id and means "no position".
type ID string

// Max sorts after every id produced by Generate.
const Max ID = "999999999999918446744073709551615"

// Generate builds the id for t and the given uniquifier.
func Generate(t time.Time, uniquifier uint64) ID {
	ms := t.UTC().UnixMilli()
	if ms < 0 {
		ms = 0
	}
	if ms > maxMillis {
		ms = maxMillis
	}
	return ID(fmt.Sprintf("%0*d%0*d", timeDigits, ms, suffixDigits, uniquifier))
}

// New builds an id for t with a random uniquifier.
func New(t time.Time) ID { return Generate(t, rand.Uint64()) }

// Min returns the smallest id at t. Ids generated at t or later compare
// greater than or equal to it, ids from earlier milliseconds compare less.
func Min(t time.Time) ID { return Generate(t, 0) }

// MaxAt returns the largest id at t.
func MaxAt(t time.Time) ID { return Generate(t, math.MaxUint64) }

// Parse validates s and returns it as an ID.
func Parse(s string) (ID, error) {
	id := ID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string { return string(id) }

// IsZero reports whether id is the empty id.
func (id ID) IsZero() bool { return id == "" }

func (id ID) Validate() error {
	if len(id) != Len {
		return fmt.Errorf("%w: %q has length %d", ErrInvalid, string(id), len(id))
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return fmt.Errorf("%w: %q contains non-digit at %d", ErrInvalid, string(id), i)
		}
	}
	if string(id[timeDigits:]) > strconv.FormatUint(math.MaxUint64, 10) {
		return fmt.Errorf("%w: %q uniquifier overflows", ErrInvalid, string(id))
	}
	return nil
}

// IsLaterThan reports whether id sorts strictly after other.
func (id ID) IsLaterThan(other ID) bool { return id > other }

// IsEarlierThan reports whether id sorts strictly before other.
func (id ID) IsEarlierThan(other ID) bool { return id < other }

// IsEarlierThanOrEqual reports whether id sorts before or equal to other.
func (id ID) IsEarlierThanOrEqual(other ID) bool { return id <= other }

// Time returns the timestamp encoded in id.
func (id ID) Time() (time.Time, error) {
	if len(id) < timeDigits {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalid, string(id))
	}
	ms, err := strconv.ParseInt(string(id[:timeDigits]), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %w", ErrInvalid, string(id), err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Uniquifier returns the tie-breaking suffix encoded in id.
func (id ID) Uniquifier() (uint64, error) {
	if len(id) != Len {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, string(id))
	}
	u, err := strconv.ParseUint(string(id[timeDigits:]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalid, string(id), err)
	}
	return u, nil
}

// Compare returns -1, 0 or +1 like strings.Compare.
func Compare(a, b ID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// === Generator ===

// Generator hands out strictly increasing ids. Ids from one generator never
// collide, even when the clock stalls or goes backwards; ids from different
// generators are kept apart by their random uniquifiers.
type Generator struct {
	mu     sync.Mutex
	now    func() time.Time
	lastMs int64
	lastU  uint64
}

func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UTC().UnixMilli()
	switch {
	case ms > g.lastMs:
		g.lastMs = ms
		// leave headroom so increments within one millisecond do not overflow
		g.lastU = rand.Uint64() >> 1
	case g.lastU < math.MaxUint64:
		g.lastU++
	default:
		g.lastMs++
		g.lastU = rand.Uint64() >> 1
	}
	return Generate(time.UnixMilli(g.lastMs), g.lastU)
}
