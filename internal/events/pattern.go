package events

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPattern is returned for malformed subscription patterns.
var ErrInvalidPattern = errors.New("invalid event pattern")

const (
	wildcardOne  = "*"
	wildcardTail = "**"
)

// parsePattern splits a pattern into segments.
// "*" matches exactly one segment; "**" matches one or more trailing segments
// and may only appear last.
func parsePattern(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}

	segments := strings.Split(pattern, ".")
	for i, seg := range segments {
		switch {
		case seg == "":
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPattern, pattern)
		case seg == wildcardTail && i != len(segments)-1:
			return nil, fmt.Errorf("%w: %q must be the last segment in %q", ErrInvalidPattern, wildcardTail, pattern)
		case seg != wildcardOne && seg != wildcardTail && strings.Contains(seg, "*"):
			return nil, fmt.Errorf("%w: partial wildcard %q in %q", ErrInvalidPattern, seg, pattern)
		}
	}
	return segments, nil
}

// node is one level of the subscription trie.
type node struct {
	children map[string]*node
	star     *node
	subs     []*Subscription // patterns ending exactly here
	tail     []*Subscription // patterns ending with "**" here
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

func (n *node) insert(segments []string, sub *Subscription) {
	cur := n
	for _, seg := range segments {
		switch seg {
		case wildcardTail:
			cur.tail = append(cur.tail, sub)
			return
		case wildcardOne:
			if cur.star == nil {
				cur.star = newNode()
			}
			cur = cur.star
		default:
			child, ok := cur.children[seg]
			if !ok {
				child = newNode()
				cur.children[seg] = child
			}
			cur = child
		}
	}
	cur.subs = append(cur.subs, sub)
}

func (n *node) remove(segments []string, sub *Subscription) {
	cur := n
	for _, seg := range segments {
		switch seg {
		case wildcardTail:
			cur.tail = without(cur.tail, sub)
			return
		case wildcardOne:
			cur = cur.star
		default:
			cur = cur.children[seg]
		}
		if cur == nil {
			return
		}
	}
	cur.subs = without(cur.subs, sub)
}

// match appends every subscription whose pattern matches the event segments.
// Each subscription lives at exactly one trie position, so none is reported twice.
func (n *node) match(segments []string, out []*Subscription) []*Subscription {
	if len(segments) == 0 {
		return append(out, n.subs...)
	}

	out = append(out, n.tail...)
	if child, ok := n.children[segments[0]]; ok {
		out = child.match(segments[1:], out)
	}
	if n.star != nil {
		out = n.star.match(segments[1:], out)
	}
	return out
}

func without(subs []*Subscription, sub *Subscription) []*Subscription {
	for i, s := range subs {
		if s == sub {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Match reports whether an event type matches a pattern.
func Match(pattern, eventType string) (bool, error) {
	segments, err := parsePattern(pattern)
	if err != nil {
		return false, err
	}

	parts := strings.Split(eventType, ".")
	for i, seg := range segments {
		if seg == wildcardTail {
			return len(parts) > i, nil
		}
		if i >= len(parts) {
			return false, nil
		}
		if seg != wildcardOne && seg != parts[i] {
			return false, nil
		}
	}
	return len(parts) == len(segments), nil
}
