package domain

import "fmt"

// Status is the outcome of a test case
type Status int

const (
	StatusNone Status = iota
	StatusPassed
	StatusFailed
	StatusSkipped
	StatusNotFound
)

// Statuses lists every status in display order
var Statuses = []Status{StatusFailed, StatusPassed, StatusSkipped, StatusNotFound, StatusNone}

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusNotFound:
		return "notFound"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus converts a status name back to its value
func ParseStatus(name string) (Status, error) {
	switch name {
	case "none", "":
		return StatusNone, nil
	case "passed":
		return StatusPassed, nil
	case "failed":
		return StatusFailed, nil
	case "skipped":
		return StatusSkipped, nil
	case "notFound":
		return StatusNotFound, nil
	default:
		return StatusNone, fmt.Errorf("unknown test status %q", name)
	}
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusNone, StatusPassed, StatusFailed, StatusSkipped, StatusNotFound:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("unknown test status %d", int(s))
	}
}

// UnmarshalText decodes a status name
func (s *Status) UnmarshalText(text []byte) error {
	status, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// Label is the human readable form of the status
func (s Status) Label() string {
	switch s {
	case StatusNone:
		return "Not Run"
	case StatusPassed:
		return "Passed"
	case StatusFailed:
		return "Failed"
	case StatusSkipped:
		return "Skipped"
	case StatusNotFound:
		return "Not Found"
	default:
		return s.String()
	}
}
