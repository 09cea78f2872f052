package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the variant of a test node
type Kind int

const (
	KindFile Kind = iota
	KindSuite
	KindDescribe
	KindCase
)

var kindNames = map[Kind]string{
	KindFile:     "file",
	KindSuite:    "suite",
	KindDescribe: "describe",
	KindCase:     "case",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText encodes the kind by name
func (k Kind) MarshalText() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown test kind %d", int(k))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a kind name
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown test kind %q", text)
}

// IsContainer reports whether nodes of this kind may have children
func (k Kind) IsContainer() bool {
	return k != KindCase
}

// TestNode is a single entry of the test tree: a file root, a suite, a describe block or a test case.
// Duration is expressed in milliseconds. Nil timing fields mean the node has not run yet.
type TestNode struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	FullTitle  string `json:"fullTitle"`
	Path       string `json:"path"`
	Line       int    `json:"line"`
	Column     int    `json:"column"`
	ParentID   string `json:"parentId,omitempty"`
	IsTestCase bool   `json:"isTestCase"`
	Kind       Kind   `json:"kind"`
	Pending    bool   `json:"pending,omitempty"`

	Status          Status     `json:"status"`
	Duration        *int64     `json:"duration,omitempty"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	ErrorStackTrace string     `json:"errorStackTrace,omitempty"`
	SessionID       string     `json:"sessionId,omitempty"`
	IsRunning       bool       `json:"isRunning,omitempty"`
}

// IsRoot reports whether the node is the synthetic root of a file
func (n *TestNode) IsRoot() bool {
	return n.ParentID == ""
}

// HasRun reports whether the node carries a result from some run
func (n *TestNode) HasRun() bool {
	return n.Duration != nil
}

// IsStale reports whether the node status was produced by a session other than the given one
func (n *TestNode) IsStale(sessionID string) bool {
	return n.SessionID != "" && n.SessionID != sessionID
}

// DurationMillis returns the recorded duration, or false when the node has not run
func (n *TestNode) DurationMillis() (int64, bool) {
	if n.Duration == nil {
		return 0, false
	}
	return *n.Duration, true
}

// StackLines splits the recorded stack trace into trimmed lines
func (n *TestNode) StackLines() []string {
	if n.ErrorStackTrace == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(n.ErrorStackTrace, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Clone returns a deep copy of the node
func (n *TestNode) Clone() *TestNode {
	c := *n
	if n.Duration != nil {
		d := *n.Duration
		c.Duration = &d
	}
	if n.StartTime != nil {
		t := *n.StartTime
		c.StartTime = &t
	}
	if n.EndTime != nil {
		t := *n.EndTime
		c.EndTime = &t
	}
	return &c
}

// Location formats the node source position as path:line:column
func (n *TestNode) Location() string {
	return fmt.Sprintf("%s:%d:%d", n.Path, n.Line, n.Column)
}

// Millis is a helper to build a duration pointer
func Millis(ms int64) *int64 {
	return &ms
}
