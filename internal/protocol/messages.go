package protocol

import "mte/internal/domain"

// Method names
const (
	MethodInitialize         = "initialize"
	MethodDiscoveryTestCases = "discoveryTestCases"
	MethodRunTestCases       = "runTestCases"
	MethodCancel             = "cancel"
	MethodTestCaseUpdate     = "testCaseUpdate"
	MethodDataOutput         = "dataOutput"
	MethodDebugInformation   = "debugInformation"
	MethodShutdown           = "shutdown"
	MethodExit               = "exit"
	MethodCancelRequest      = "$/cancelRequest"
)

// Settings configure the server side of a session
type Settings struct {
	MochaPath  string   `json:"mochaPath"`
	MochaArgs  []string `json:"mochaArgs,omitempty"`
	EnvFile    string   `json:"envFile,omitempty"`
	Include    []string `json:"include"`
	Exclude    []string `json:"exclude,omitempty"`
	SkipDirs   []string `json:"skipDirs,omitempty"`
	Workers    int      `json:"workers"`
	Processors int      `json:"processors"`
}

type InitializeParams struct {
	RootPath  string   `json:"rootPath"`
	ProcessID int      `json:"processId,omitempty"`
	Settings  Settings `json:"settings"`
}

type Capabilities struct {
	Debug     bool     `json:"debug"`
	Cancel    bool     `json:"cancel"`
	Languages []string `json:"languages"`
}

type InitializeResult struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Capabilities Capabilities `json:"capabilities"`
}

// DiscoveryParams targets a directory, or only the listed files when Files is set
type DiscoveryParams struct {
	Directory string   `json:"directory"`
	Files     []string `json:"files,omitempty"`
}

type DiscoveryResult struct {
	TestCases []*domain.TestNode `json:"testCases"`
}

// RunParams selects nodes to run; containers expand to their test cases and no ids runs everything
type RunParams struct {
	SessionID   string   `json:"sessionId"`
	TestCaseIDs []string `json:"testCaseIds"`
	Debug       bool     `json:"debug"`
	FailFast    bool     `json:"failFast,omitempty"`
}

type CancelParams struct {
	SessionID string `json:"sessionId"`
}

type TestCaseUpdateParams = domain.StatusUpdate

type DataOutputParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Stream    string `json:"stream,omitempty"`
	Text      string `json:"text"`
}

type DebugInformationParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text"`
}
