// Package protocol implements the relay wire format: frames of newline
// separated "KEY: value" lines.
package protocol

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Keys used on the wire. File identifiers are also used as keys when a
// payload is delivered.
const (
	KeyID          = "ID"
	KeyName        = "NAME"
	KeyPing        = "PING"
	KeyPong        = "PONG"
	KeyReadyData   = "READYDATA"
	KeyWall        = "WALL"
	KeyExists      = "EXISTS"
	KeyError       = "ERROR"
	KeySync        = "SYNC"
	KeyRequestData = "REQUESTDATA"
	KeyActive      = "ACTIVE"
)

// ReasonNotFound is the ERROR value the relay sends when it does not know
// the client's identity.
const ReasonNotFound = "NotFoundError"

// ErrMalformedFrame is wrapped by every ProtocolError.
var ErrMalformedFrame = errors.New("malformed line in frame")

var controlKeys = map[string]bool{
	KeyID: true, KeyName: true, KeyPing: true, KeyPong: true,
	KeyReadyData: true, KeyWall: true, KeyExists: true, KeyError: true,
	KeySync: true, KeyRequestData: true, KeyActive: true,
}

// IsControlKey reports whether key is one of the fixed protocol keys rather
// than a file identifier.
func IsControlKey(key string) bool {
	return controlKeys[key]
}

// ProtocolError describes why a frame was rejected.
type ProtocolError struct {
	Line   int // 1-based
	Text   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v: line %d (%s): %q", ErrMalformedFrame, e.Line, e.Reason, e.Text)
}

func (e *ProtocolError) Unwrap() error {
	return ErrMalformedFrame
}

// Pair is one "KEY: value" line.
type Pair struct {
	Key   string
	Value string
}

// Frame is the ordered content of one transport message.
type Frame []Pair

// Get returns the value of the first pair with the given key.
func (f Frame) Get(key string) (string, bool) {
	for _, p := range f {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Map returns the frame as a key->value map. Later duplicates win.
func (f Frame) Map() map[string]string {
	m := make(map[string]string, len(f))
	for _, p := range f {
		m[p.Key] = p.Value
	}
	return m
}

// Parse decodes a raw frame. The value is everything after the first colon,
// so values may themselves contain colons. Any bad line rejects the frame.
func Parse(raw string) (Frame, error) {
	lines := strings.Split(raw, "\n")
	frame := make(Frame, 0, len(lines))
	for i, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ProtocolError{Line: i + 1, Text: line, Reason: "missing colon"}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, &ProtocolError{Line: i + 1, Text: line, Reason: "empty key"}
		}
		if value == "" {
			return nil, &ProtocolError{Line: i + 1, Text: line, Reason: "empty value"}
		}
		frame = append(frame, Pair{Key: key, Value: value})
	}
	return frame, nil
}

// Encode serializes a frame, one line per pair.
func Encode(f Frame) string {
	var b strings.Builder
	for i, p := range f {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(Line(p.Key, p.Value))
	}
	return b.String()
}

// Line serializes a single pair.
func Line(key, value string) string {
	return key + ": " + value
}

// ImageExtensions lists the file extensions that can be synced.
var ImageExtensions = []string{"jpg", "jpeg", "png"}

// IsImage reports whether path has one of ImageExtensions (case-insensitive).
func IsImage(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
