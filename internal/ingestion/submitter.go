package ingestion

import (
	"context"

	"VaultLedger/internal/core"
	"VaultLedger/internal/request"
)

// Submitter injects requests into the core's submission channel. The
// synchronous path (HTTP) waits for the outcome; streaming sources hand off
// and observe results on the outbound stream.
type Submitter struct {
	submissions chan<- core.Submission
}

func NewSubmitter(submissions chan<- core.Submission) *Submitter {
	return &Submitter{submissions: submissions}
}

// Submit sends a request and blocks until the core reports its outcome.
func (s *Submitter) Submit(ctx context.Context, req request.Request) (core.Outcome, error) {
	done := make(chan core.Outcome, 1)

	select {
	case s.submissions <- core.Submission{Request: req, Done: done}:
	case <-ctx.Done():
		return core.Outcome{}, ctx.Err()
	}

	select {
	case outcome := <-done:
		return outcome, nil
	case <-ctx.Done():
		return core.Outcome{}, ctx.Err()
	}
}

// Enqueue hands a request to the core without waiting for its outcome.
func (s *Submitter) Enqueue(ctx context.Context, req request.Request) error {
	select {
	case s.submissions <- core.Submission{Request: req}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
