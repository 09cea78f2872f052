package cli

import "mte/internal/config"

// Flags holds command-line flags
type Flags struct {
	ProjectPath string
	Processors  int
	Filter      string
	GroupBy     string
	Debug       bool
	FailFast    bool
	Interactive bool
	Run         bool
	Listen      string
	Connect     string
}

// ToConfigFlags converts CLI flags to config flags
func (f *Flags) ToConfigFlags() config.Flags {
	return config.Flags{
		Processors:  f.Processors,
		Filter:      f.Filter,
		GroupBy:     f.GroupBy,
		Debug:       f.Debug,
		FailFast:    f.FailFast,
		Interactive: f.Interactive,
		Run:         f.Run,
		Listen:      f.Listen,
		Connect:     f.Connect,
	}
}
