package events

import "time"

// DispatchStart is emitted before an executable runs.
type DispatchStart struct {
	Name       string
	Kind       string
	PipelineID string
	Depth      int
}

// DispatchFinish is emitted on every exit from a dispatch.
type DispatchFinish struct {
	Name       string
	Kind       string
	PipelineID string
	Depth      int
	Err        error
	Duration   time.Duration
}

// SecurityReview is emitted when the security gate flags a command line.
type SecurityReview struct {
	Name             string
	PipelineID       string
	CommandLine      string
	Blocked          bool
	RequiresApproval bool
	Risks            []string
}

// EffectEmitted mirrors every effect delivered to a sink.
type EffectEmitted struct {
	Kind       string
	Text       string
	Source     string
	PipelineID string
}
