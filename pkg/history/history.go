// Package history records release runs.
//
// Every `lockstep version` and `lockstep publish` run produces one [Run]: the
// plan it executed, the tags it created, what reached the registry and how
// it ended. A [Recorder] persists runs to a backend:
//   - file: JSON lines appended to a file inside the repository
//   - mongo: a MongoDB collection shared by every clone and CI job
//   - nop: discards everything
//
// # Usage
//
//	rec, err := history.NewFileRecorder(".lockstep/history.jsonl")
//	run := history.NewRun("publish")
//	// ... release ...
//	run.Finish(err)
//	rec.Record(ctx, run)
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/matzehuels/lockstep/pkg/errors"
)

// Run is one recorded release run.
type Run struct {
	ID         string    `json:"id" bson:"_id"`
	Command    string    `json:"command" bson:"command"`
	Mode       string    `json:"mode" bson:"mode"`
	Canary     bool      `json:"canary,omitempty" bson:"canary,omitempty"`
	DryRun     bool      `json:"dry_run,omitempty" bson:"dry_run,omitempty"`
	StartedAt  time.Time `json:"started_at" bson:"started_at"`
	FinishedAt time.Time `json:"finished_at" bson:"finished_at"`

	Packages  []Package   `json:"packages,omitempty" bson:"packages,omitempty"`
	Tags      []string    `json:"tags,omitempty" bson:"tags,omitempty"`
	Published []Published `json:"published,omitempty" bson:"published,omitempty"`

	Error     string `json:"error,omitempty" bson:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty" bson:"error_code,omitempty"`
}

// Package is one planned version change.
type Package struct {
	Name   string `json:"name" bson:"name"`
	From   string `json:"from" bson:"from"`
	To     string `json:"to" bson:"to"`
	Reason string `json:"reason,omitempty" bson:"reason,omitempty"`
}

// Published is one package that reached the registry.
type Published struct {
	Name    string `json:"name" bson:"name"`
	Version string `json:"version" bson:"version"`
	DistTag string `json:"dist_tag" bson:"dist_tag"`
	Shasum  string `json:"shasum,omitempty" bson:"shasum,omitempty"`
}

// NewRun starts a run with a fresh random ID.
func NewRun(command string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Command:   command,
		StartedAt: time.Now().UTC(),
	}
}

// Finish stamps the end time and the outcome.
func (r *Run) Finish(err error) {
	r.FinishedAt = time.Now().UTC()
	if err != nil {
		r.Error = errors.UserMessage(err)
		r.ErrorCode = string(errors.GetCode(err))
	}
}

// Succeeded reports whether the run ended without an error.
func (r *Run) Succeeded() bool { return r.Error == "" }

// Duration is the run's wall time; zero until Finish.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Recorder is the interface for history backends.
type Recorder interface {
	// Record stores a finished run.
	Record(ctx context.Context, run *Run) error

	// List returns up to limit runs, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*Run, error)

	Close(ctx context.Context) error
}

// NopRecorder discards runs.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *Run) error        { return nil }
func (NopRecorder) List(context.Context, int) ([]*Run, error) { return nil, nil }
func (NopRecorder) Close(context.Context) error               { return nil }

var _ Recorder = NopRecorder{}
