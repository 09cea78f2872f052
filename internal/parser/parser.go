package parser

// Parser turns one line of reporter output into an event
type Parser interface {
	ParseLine(line string) (*Event, bool)
}
