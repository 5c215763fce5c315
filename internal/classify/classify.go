// Package classify derives completed/cancelled flags from free-text
// upstream statuses. Every keyword lives in the per-source tables below.
package classify

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

type Source int

const (
	SourceMarketplace Source = iota
	SourceSPX
	SourceGHN
)

func (s Source) String() string {
	switch s {
	case SourceMarketplace:
		return "marketplace"
	case SourceSPX:
		return "spx"
	case SourceGHN:
		return "ghn"
	default:
		return "unknown"
	}
}

type Verdict struct {
	Completed bool
	Cancelled bool
}

type keyword struct {
	text  string
	exact bool
}

type table struct {
	completed []keyword
	cancelled []keyword
	// handover phrases read like "delivered" but mean the parcel was
	// handed to the carrier. They are cut out before completed matching.
	handover []string
}

func contains(words ...string) []keyword {
	out := make([]keyword, 0, len(words))
	for _, w := range words {
		out = append(out, keyword{text: w})
	}
	return out
}

func exact(words ...string) []keyword {
	out := make([]keyword, 0, len(words))
	for _, w := range words {
		out = append(out, keyword{text: w, exact: true})
	}
	return out
}

var handover = []string{
	"đã giao cho đơn vị vận chuyển",
	"đã giao hàng cho đơn vị vận chuyển",
	"đã giao cho đvvc",
	"đã giao cho người vận chuyển",
	"đã giao cho bên vận chuyển",
}

var tables = map[Source]table{
	SourceMarketplace: {
		completed: contains("giao hàng thành công", "đã giao", "hoàn tất"),
		// "hủy" and "huỷ" are both in use; the tone mark position differs.
		cancelled: contains("đã hủy", "đã huỷ", "hủy", "huỷ"),
		handover:  handover,
	},
	SourceSPX: {
		completed: contains("giao hàng thành công", "đã giao hàng", "delivered"),
		cancelled: contains("đã hủy", "đã huỷ", "cancelled"),
		handover:  handover,
	},
	SourceGHN: {
		completed: exact("delivered"),
		cancelled: exact("cancel", "return", "returned"),
	},
}

var lower = cases.Lower(language.Vietnamese)

// Normalize folds text to NFC lower case with collapsed whitespace.
func Normalize(text string) string {
	s := lower.String(norm.NFC.String(text))
	return strings.Join(strings.Fields(s), " ")
}

// Classify matches text against the keyword table of src. Unknown sources
// yield the zero verdict. A completed match wins over a cancelled one.
func Classify(src Source, text string) Verdict {
	t, ok := tables[src]
	if !ok {
		return Verdict{}
	}
	s := Normalize(text)
	if s == "" {
		return Verdict{}
	}
	if match(t.completed, withoutHandover(t.handover, s)) {
		return Verdict{Completed: true}
	}
	return Verdict{Cancelled: match(t.cancelled, s)}
}

func match(kws []keyword, s string) bool {
	for _, kw := range kws {
		k := Normalize(kw.text)
		if kw.exact {
			if s == k {
				return true
			}
			continue
		}
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func withoutHandover(phrases []string, s string) string {
	for _, p := range phrases {
		s = strings.ReplaceAll(s, Normalize(p), " ")
	}
	return s
}
