package model

import (
	"fmt"
	"strconv"
	"strings"
)

// UnitKey identifies one generatable piece of the draft.
type UnitKey string

const (
	UnitCover         UnitKey = "cover"
	UnitGameOfTheWeek UnitKey = "gameOfTheWeek"
)

const articleUnitPrefix = "article-"

// ArticleUnit is the unit key of the i-th article.
func ArticleUnit(i int) UnitKey { return UnitKey(articleUnitPrefix + strconv.Itoa(i)) }

// ArticleIndex returns the article index encoded in k.
func (k UnitKey) ArticleIndex() (int, bool) {
	rest, ok := strings.CutPrefix(string(k), articleUnitPrefix)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// ParseUnitKey validates a unit key received from the presentation layer.
func ParseUnitKey(s string) (UnitKey, error) {
	k := UnitKey(s)
	switch k {
	case UnitCover, UnitGameOfTheWeek:
		return k, nil
	}
	if _, ok := k.ArticleIndex(); ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown unit %q", s)
}

// GenerationState is the per-unit state of the generation state machine.
type GenerationState string

const (
	StatePending    GenerationState = "pending"
	StateGenerating GenerationState = "generating"
	StateDone       GenerationState = "done"
	StateError      GenerationState = "error"
)

// StatusMap tracks the generation state of every unit of one draft.
type StatusMap map[UnitKey]GenerationState

// NewStatusMap returns a map with every unit of m pending.
func NewStatusMap(m Magazine) StatusMap {
	units := m.Units()
	s := make(StatusMap, len(units))
	for _, u := range units {
		s[u] = StatePending
	}
	return s
}

// Clone returns a copy of s.
func (s StatusMap) Clone() StatusMap {
	out := make(StatusMap, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// AllDone reports whether every unit finished.
func (s StatusMap) AllDone() bool {
	for _, v := range s {
		if v != StateDone {
			return false
		}
	}
	return len(s) > 0
}

// AnyGenerating reports whether some unit is in flight.
func (s StatusMap) AnyGenerating() bool {
	for _, v := range s {
		if v == StateGenerating {
			return true
		}
	}
	return false
}
