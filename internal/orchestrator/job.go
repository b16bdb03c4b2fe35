package orchestrator

import (
	"errors"
	"time"
)

// Status is the lifecycle state of one module generation job.
//
//	WAITING --start--> RUNNING --succeed--> SUCCEEDED
//	WAITING --start--> RUNNING --fail-----> FAILED
//	WAITING --cancel-------------------> CANCELLED
//	RUNNING --cancel (parent deleted)--> CANCELLED
//	FAILED  --retry--------------------> WAITING   (attempts += 1)
//
// SUCCEEDED and CANCELLED are terminal; FAILED is terminal but
// re-enterable through an explicit retry. Retries are always
// caller-initiated, never automatic.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Active reports whether the job still occupies its module key slot:
// only one WAITING or RUNNING job may exist per (parent, module).
func (s Status) Active() bool {
	return s == StatusWaiting || s == StatusRunning
}

// Terminal reports whether the job has finished, in any outcome.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Job is one module generation task. Records are owned exclusively by
// the Orchestrator; readers only ever see copies.
type Job struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parent_id"`
	AccountID  string     `json:"account_id"`
	ModuleKey  string     `json:"module_key"`
	Model      string     `json:"model"`
	Prompt     string     `json:"-"`
	Status     Status     `json:"status"`
	Attempts   int        `json:"attempts"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// ModuleRequest names one module to generate, with the prompt and model
// the collaborator call will receive. Prompt construction happens
// upstream of this package.
type ModuleRequest struct {
	Key    string `json:"key"`
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// ParentState aggregates a parent's job set. It is derived from the job
// records on every read, never stored.
type ParentState string

const (
	ParentIdle            ParentState = "IDLE"
	ParentGenerating      ParentState = "GENERATING"
	ParentCompleted       ParentState = "COMPLETED"
	ParentPartiallyFailed ParentState = "PARTIALLY_FAILED"
)

var (
	ErrDuplicateActiveModule = errors.New("module already waiting or running for this parent")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrGenerationTimeout     = errors.New("generation timeout")
	ErrRetryNotFailed        = errors.New("module job is not in a failed state")
	ErrUnknownParent         = errors.New("unknown parent")
	ErrUnknownModule         = errors.New("unknown module for parent")
	ErrClosed                = errors.New("orchestrator closed")
)
