// Package tag implements DCB tags, the "Group:Content" strings that select
// consistency boundaries and event streams.
package tag

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MaxGroupLen   = 40
	MaxContentLen = 80
	separator     = ":"
)

var (
	ErrInvalid = errors.New("invalid tag")
)

// Tag is a parsed and validated "Group:Content" pair.
type Tag struct {
	Group   string `json:"group"`
	Content string `json:"content"`
}

// New validates group and content and returns the tag.
func New(group, content string) (Tag, error) {
	t := Tag{Group: group, Content: content}
	if err := t.Validate(); err != nil {
		return Tag{}, err
	}
	return t, nil
}

// MustNew is like New but panics on error.
func MustNew(group, content string) Tag {
	t, err := New(group, content)
	if err != nil {
		panic(err)
	}
	return t
}

// Parse splits s at the first ':' and validates both parts.
func Parse(s string) (Tag, error) {
	group, content, ok := strings.Cut(s, separator)
	if !ok {
		return Tag{}, fmt.Errorf("%w: %q is missing the %q separator", ErrInvalid, s, separator)
	}
	return New(group, content)
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Tag {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Tag) String() string { return t.Group + separator + t.Content }

func (t Tag) IsZero() bool { return t.Group == "" && t.Content == "" }

// Validate returns all violations joined, each wrapping ErrInvalid.
func (t Tag) Validate() error {
	return errors.Join(Violations(t.Group, t.Content)...)
}

// Violations lists every rule group and content break.
func Violations(group, content string) (errs []error) {
	check := func(part, value string, maxLen int) {
		switch {
		case value == "":
			errs = append(errs, fmt.Errorf("%w: %s is empty", ErrInvalid, part))
			return
		case len(value) > maxLen:
			errs = append(errs, fmt.Errorf("%w: %s %q exceeds %d characters", ErrInvalid, part, value, maxLen))
		}
		if i := strings.IndexFunc(value, func(r rune) bool { return !allowed(r) }); i >= 0 {
			errs = append(errs, fmt.Errorf("%w: %s %q contains %q", ErrInvalid, part, value, value[i:i+1]))
		}
	}
	check("group", group, MaxGroupLen)
	check("content", content, MaxContentLen)
	return errs
}

func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '.', r == '-':
		return true
	}
	return false
}

// ParseAll parses a list of tag strings, stopping at the first invalid one.
func ParseAll(ss []string) ([]Tag, error) {
	out := make([]Tag, 0, len(ss))
	for _, s := range ss {
		t, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Strings renders tags to their wire form.
func Strings(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

// === StateID ===

// StateID names one tag state: a tag folded by one projector.
// Its wire form is "Group:Content:Projector".
type StateID struct {
	Tag       Tag
	Projector string
}

func NewStateID(t Tag, projector string) StateID {
	return StateID{Tag: t, Projector: projector}
}

func ParseStateID(s string) (StateID, error) {
	i := strings.LastIndex(s, separator)
	if i < 0 {
		return StateID{}, fmt.Errorf("%w: state id %q is missing the projector", ErrInvalid, s)
	}
	t, err := Parse(s[:i])
	if err != nil {
		return StateID{}, err
	}
	projector := s[i+1:]
	if projector == "" {
		return StateID{}, fmt.Errorf("%w: state id %q has an empty projector", ErrInvalid, s)
	}
	return StateID{Tag: t, Projector: projector}, nil
}

func (s StateID) String() string { return s.Tag.String() + separator + s.Projector }
