package config

import "time"

const (
	// DefaultProjectPath is the default workspace root
	DefaultProjectPath = "."
	// DefaultMochaPath is resolved against the workspace root
	DefaultMochaPath = "node_modules/.bin/mocha"
	// DefaultEnvFile is loaded into the mocha environment when present
	DefaultEnvFile = ".env"
	// DefaultOutputJSONFile is the default results file name
	DefaultOutputJSONFile = "last-run.json"
	// DefaultOutputJSONDir is the default results directory
	DefaultOutputJSONDir = ".mte"
	// DefaultProcessors is the default number of parallel mocha processes
	DefaultProcessors = 4
	// DefaultDiscoveryWorkers is the default number of files parsed in parallel
	DefaultDiscoveryWorkers = 8
	// DefaultInitializeTimeout bounds the initialize handshake
	DefaultInitializeTimeout = 10 * time.Second
	// DefaultWatchDebounce is the quiet period before watch mode rediscovers
	DefaultWatchDebounce = 300 * time.Millisecond
	// DefaultGroupBy is the grouping strategy used by list
	DefaultGroupBy = "duration"
	// DefaultLogLevel is the default zerolog level
	DefaultLogLevel = "info"
	// DefaultLogFormat is console or json
	DefaultLogFormat = "console"
)

// DefaultInclude are the globs of test files, relative to the workspace root
var DefaultInclude = []string{
	"test/**/*.{js,mjs,cjs,ts,tsx}",
	"**/*.{test,spec}.{js,mjs,cjs,ts,tsx}",
}

// DefaultSkipDirs are the directories never scanned for tests
var DefaultSkipDirs = []string{
	"node_modules",
	"dist",
	"build",
	"coverage",
	"out",
}
