// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package version

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// rangeLexer splits a range into versions and bound markers.
var rangeLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Version", Pattern: `[0-9A-Za-z][0-9A-Za-z.+\-]*`},
	{Name: "Punct", Pattern: `[\[\]\(\),]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// rangeExpr is the parse tree of a range.
//
// Grammar: [ "[" | "(" ] version [ "," version ] [ "]" | ")" ]
type rangeExpr struct {
	Open  string  `parser:"@('[' | '(')?"`
	Start string  `parser:"@Version"`
	End   *string `parser:"(',' @Version)?"`
	Close string  `parser:"@(']' | ')')?"`
}

var rangeParser = participle.MustBuild[rangeExpr](
	participle.Lexer(rangeLexer),
)

// Range is an immutable interval of versions. An absent bound leaves that
// side unbounded.
type Range struct {
	start          Version
	hasStart       bool
	startInclusive bool
	end            Version
	hasEnd         bool
	endInclusive   bool
	exact          bool
}

// ParseRange parses a version range.
//
// Accepted forms:
//
//	1.0.0          exactly 1.0.0
//	[1.0.0         1.0.0 or newer
//	(1.0.0         newer than 1.0.0
//	1.0.0]         1.0.0 or older
//	1.0.0)         older than 1.0.0
//	[1.0.0,2.0.0)  1.0.0 up to but excluding 2.0.0
//
// A single version may carry at most one marker; two versions must carry
// both.
func ParseRange(text string) (Range, error) {
	expr, err := rangeParser.ParseString("", text)
	if err != nil {
		return Range{}, oops.Code(CodeRangeFormat).
			With("range", text).
			Wrapf(err, "malformed version range %q", text)
	}

	start, err := Parse(expr.Start)
	if err != nil {
		return Range{}, oops.Code(CodeRangeFormat).
			With("range", text).
			Errorf("illegal range start %q: %v", expr.Start, err)
	}

	hasPrefix := expr.Open != ""
	hasSuffix := expr.Close != ""

	if expr.End == nil {
		switch {
		case hasPrefix && hasSuffix:
			return Range{}, oops.Code(CodeRangeFormat).
				With("range", text).
				Errorf("illegal range %q: single version cannot specify both bounds", text)
		case hasPrefix:
			return Range{
				start:          start,
				hasStart:       true,
				startInclusive: expr.Open == "[",
			}, nil
		case hasSuffix:
			return Range{
				end:          start,
				hasEnd:       true,
				endInclusive: expr.Close == "]",
			}, nil
		default:
			return Range{
				start:          start,
				hasStart:       true,
				startInclusive: true,
				end:            start,
				hasEnd:         true,
				endInclusive:   true,
				exact:          true,
			}, nil
		}
	}

	end, err := Parse(*expr.End)
	if err != nil {
		return Range{}, oops.Code(CodeRangeFormat).
			With("range", text).
			Errorf("illegal range end %q: %v", *expr.End, err)
	}

	if !hasPrefix || !hasSuffix {
		return Range{}, oops.Code(CodeRangeFormat).
			With("range", text).
			Errorf("illegal range %q: must specify upper and lower bound", text)
	}

	return Range{
		start:          start,
		hasStart:       true,
		startInclusive: expr.Open == "[",
		end:            end,
		hasEnd:         true,
		endInclusive:   expr.Close == "]",
	}, nil
}

// MustParseRange is like ParseRange but panics on malformed input.
func MustParseRange(text string) Range {
	r, err := ParseRange(text)
	if err != nil {
		panic(err)
	}
	return r
}

// Start returns the lower bound and whether it is present.
func (r Range) Start() (Version, bool) { return r.start, r.hasStart }

// End returns the upper bound and whether it is present.
func (r Range) End() (Version, bool) { return r.end, r.hasEnd }

// StartInclusive reports whether the lower bound is part of the range.
func (r Range) StartInclusive() bool { return r.startInclusive }

// EndInclusive reports whether the upper bound is part of the range.
func (r Range) EndInclusive() bool { return r.endInclusive }

// Contains reports whether v lies within the range.
func (r Range) Contains(v Version) bool {
	if r.hasStart {
		c := v.Compare(r.start)
		if c < 0 || (c == 0 && !r.startInclusive) {
			return false
		}
	}
	if r.hasEnd {
		c := v.Compare(r.end)
		if c > 0 || (c == 0 && !r.endInclusive) {
			return false
		}
	}
	return true
}

// String returns the range in the form accepted by ParseRange.
func (r Range) String() string {
	if r.exact {
		return r.start.String()
	}

	var b strings.Builder
	switch {
	case r.hasStart && r.hasEnd:
		fmt.Fprintf(&b, "%c%s,%s%c",
			bracket(r.startInclusive, '[', '('), r.start,
			r.end, bracket(r.endInclusive, ']', ')'))
	case r.hasStart:
		fmt.Fprintf(&b, "%c%s", bracket(r.startInclusive, '[', '('), r.start)
	case r.hasEnd:
		fmt.Fprintf(&b, "%s%c", r.end, bracket(r.endInclusive, ']', ')'))
	}
	return b.String()
}

func bracket(inclusive bool, in, ex rune) rune {
	if inclusive {
		return in
	}
	return ex
}
