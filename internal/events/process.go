package events

import "time"

// ProcessStart is emitted before a command line is spawned.
type ProcessStart struct {
	CommandLine string
	PipelineID  string
}

// ProcessFinish is emitted after the process exits.
type ProcessFinish struct {
	CommandLine string
	PipelineID  string
	ExitCode    int
	Err         error
	Duration    time.Duration
}
