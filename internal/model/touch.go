package model

import "strings"

type TouchKind string

const (
	TouchFirst  TouchKind = "first"
	TouchSecond TouchKind = "second"
)

// TouchKinds lists every kind in dispatch order.
var TouchKinds = []TouchKind{TouchFirst, TouchSecond}

func (k TouchKind) String() string { return string(k) }

// ParseTouchKind normalizes input; empty => first.
// Returns (value, true) if valid; otherwise (first, false).
func ParseTouchKind(s string) (TouchKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return TouchFirst, true
	case "second":
		return TouchSecond, true
	default:
		return TouchFirst, false
	}
}

func (k TouchKind) Valid() bool {
	return k == TouchFirst || k == TouchSecond
}

// KindOf maps the template flag onto a touch kind.
func KindOf(isSecondTouch bool) TouchKind {
	if isSecondTouch {
		return TouchSecond
	}
	return TouchFirst
}
