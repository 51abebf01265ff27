package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidKey indicates a key that does not follow the key syntax.
var ErrInvalidKey = errors.New("invalid key")

// KeyError describes why a key could not be parsed or applied.
type KeyError struct {
	// Key is the offending key.
	Key string
	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	return fmt.Sprintf("invalid key %q: %s", e.Key, e.Message)
}

// Is implements error matching for KeyError.
func (e *KeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

// keyPart is one parsed element of a key.
type keyPart struct {
	name      string
	index     int // -1 when no index was given
	attribute bool
}

// parseKey splits a key into its parts. The empty key yields no parts
// and addresses the root.
func parseKey(key string) ([]keyPart, error) {
	if key == "" {
		return nil, nil
	}

	segments, err := splitSegments(key)
	if err != nil {
		return nil, err
	}

	parts := make([]keyPart, 0, len(segments))
	for _, seg := range segments {
		segParts, err := parseSegment(key, seg)
		if err != nil {
			return nil, err
		}
		parts = append(parts, segParts...)
	}

	for i, p := range parts {
		if p.attribute && i != len(parts)-1 {
			return nil, &KeyError{Key: key, Message: "attribute must be the last element"}
		}
	}
	return parts, nil
}

// splitSegments splits at single dots. A doubled dot is an escaped dot
// inside a name; dots inside [@...] belong to the attribute name.
func splitSegments(key string) ([]string, error) {
	var segments []string
	var buf strings.Builder
	inAttr := false

	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case inAttr:
			buf.WriteByte(c)
			if c == ']' {
				inAttr = false
			}
		case c == '[':
			inAttr = true
			buf.WriteByte(c)
		case c == '.':
			if i+1 < len(key) && key[i+1] == '.' {
				buf.WriteByte('.')
				i++
				continue
			}
			segments = append(segments, buf.String())
			buf.Reset()
		default:
			buf.WriteByte(c)
		}
	}
	if inAttr {
		return nil, &KeyError{Key: key, Message: "unterminated attribute"}
	}
	return append(segments, buf.String()), nil
}

func parseSegment(key, seg string) ([]keyPart, error) {
	name := seg
	attr := ""
	if idx := strings.Index(seg, "[@"); idx >= 0 {
		if !strings.HasSuffix(seg, "]") {
			return nil, &KeyError{Key: key, Message: "text after attribute"}
		}
		attr = seg[idx+2 : len(seg)-1]
		name = seg[:idx]
		if attr == "" {
			return nil, &KeyError{Key: key, Message: "empty attribute name"}
		}
	}
	if strings.ContainsAny(name, "[]") {
		return nil, &KeyError{Key: key, Message: "unexpected bracket in " + strconv.Quote(seg)}
	}

	var parts []keyPart
	if name != "" {
		p, err := parseNodePart(key, name)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	} else if attr == "" {
		return nil, &KeyError{Key: key, Message: "empty element"}
	}
	if attr != "" {
		parts = append(parts, keyPart{name: attr, index: -1, attribute: true})
	}
	return parts, nil
}

func parseNodePart(key, name string) (keyPart, error) {
	if !strings.HasSuffix(name, ")") {
		return keyPart{name: name, index: -1}, nil
	}
	open := strings.LastIndexByte(name, '(')
	if open <= 0 {
		return keyPart{}, &KeyError{Key: key, Message: "malformed index in " + strconv.Quote(name)}
	}
	idx, err := strconv.Atoi(name[open+1 : len(name)-1])
	if err != nil || idx < 0 {
		return keyPart{}, &KeyError{Key: key, Message: "malformed index in " + strconv.Quote(name)}
	}
	return keyPart{name: name[:open], index: idx}, nil
}

// escapeName doubles dots so a name survives splitSegments.
func escapeName(name string) string {
	return strings.ReplaceAll(name, ".", "..")
}
