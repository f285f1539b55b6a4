// Package endpoint compiles URL templates into matchable patterns.
package endpoint

import (
	"regexp"
	"strings"

	"github.com/searchktools/embedserver/optimize"
)

type segmentKind int

const (
	segLiteral segmentKind = iota
	segParam
	segRegex
)

type segment struct {
	kind    segmentKind
	literal string
	name    string // param name, or regex group name
	re      *regexp.Regexp
}

// Pattern is a compiled URL template, e.g. "/users/{id}" or "/static/*" (family).
//
// Family patterns match any URL with at least as many segments and whose
// leading segments match; exact patterns require an equal segment count.
type Pattern struct {
	raw        string
	segments   []segment
	family     bool
	pieceCount int
	totalSize  int
}

// Compile parses a URL template into a Pattern. regexEnabled controls whether
// segments containing regex metacharacters are compiled as regex fragments;
// when false such segments are treated as literals.
func Compile(raw string, family bool, regexEnabled bool) (*Pattern, error) {
	trimmed := strings.TrimSuffix(raw, "/")
	if trimmed == "" {
		trimmed = "/"
	}
	parts := strings.Split(strings.TrimPrefix(trimmed, "/"), "/")

	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		seg, err := compileSegment(p, regexEnabled)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}

	return &Pattern{
		raw:        raw,
		segments:   segs,
		family:     family,
		pieceCount: len(segs),
		totalSize:  len(trimmed),
	}, nil
}

func compileSegment(p string, regexEnabled bool) (segment, error) {
	if len(p) >= 2 && p[0] == '{' && p[len(p)-1] == '}' {
		name := p[1 : len(p)-1]
		if regexEnabled {
			if idx := strings.IndexByte(name, ':'); idx >= 0 {
				pattern := name[idx+1:]
				paramName := name[:idx]
				re, err := regexp.Compile("^" + pattern + "$")
				if err != nil {
					return segment{}, err
				}
				return segment{kind: segRegex, name: paramName, re: re}, nil
			}
		}
		return segment{kind: segParam, name: name}, nil
	}

	if regexEnabled && containsMeta(p) {
		re, err := regexp.Compile("^" + p + "$")
		if err != nil {
			return segment{}, err
		}
		return segment{kind: segRegex, re: re}, nil
	}

	return segment{kind: segLiteral, literal: p}, nil
}

func containsMeta(s string) bool {
	return strings.ContainsAny(s, "^$.*+?()[]{}|\\")
}

// Raw returns the original template string this Pattern was compiled from.
func (p *Pattern) Raw() string { return p.raw }

// Family reports whether this is a prefix-matching ("family") pattern.
func (p *Pattern) Family() bool { return p.family }

// PieceCount is the number of path segments in the pattern.
func (p *Pattern) PieceCount() int { return p.pieceCount }

// TotalSize is the character length of the normalized template.
func (p *Pattern) TotalSize() int { return p.totalSize }

// MoreSpecificThan implements the tie-break order from the route table: more
// segments wins, then longer total size, lexicographically.
func (p *Pattern) MoreSpecificThan(other *Pattern) bool {
	if p.pieceCount != other.pieceCount {
		return p.pieceCount > other.pieceCount
	}
	return p.totalSize > other.totalSize
}

// Match reports whether url satisfies this pattern, and if so returns the
// captured named parameter values.
func (p *Pattern) Match(url string) (map[string]string, bool) {
	trimmed := strings.TrimSuffix(url, "/")
	if trimmed == "" {
		trimmed = "/"
	}
	urlParts := splitNonEmpty(strings.TrimPrefix(trimmed, "/"))

	if p.family {
		if len(urlParts) < len(p.segments) {
			return nil, false
		}
	} else if len(urlParts) != len(p.segments) {
		return nil, false
	}

	var captures map[string]string
	for i, seg := range p.segments {
		piece := urlParts[i]
		switch seg.kind {
		case segLiteral:
			if !compareLiteral(seg.literal, piece) {
				return nil, false
			}
		case segParam:
			if piece == "" {
				return nil, false
			}
			if captures == nil {
				captures = make(map[string]string, len(p.segments))
			}
			captures[seg.name] = piece
		case segRegex:
			if !seg.re.MatchString(piece) {
				return nil, false
			}
			if seg.name != "" {
				if captures == nil {
					captures = make(map[string]string, len(p.segments))
				}
				captures[seg.name] = piece
			}
		}
	}

	if captures == nil {
		captures = map[string]string{}
	}
	return captures, true
}

func compareLiteral(a, b string) bool {
	if len(a) >= 16 && len(b) >= 16 {
		return optimize.ComparePathSIMD(a, b)
	}
	return a == b
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, "/")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}
