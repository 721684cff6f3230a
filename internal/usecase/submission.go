package usecase

import (
	"context"
	"errors"

	"github.com/example/cellscan/internal/classifier"
)

// ErrSuperseded is returned by Wait when a newer selection, a clear or a
// session close replaced the submission before it finished.
var ErrSuperseded = errors.New("submission superseded")

// Submission is the handle for one in-flight classification.
type Submission struct {
	token     uint64
	requestID string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	// written once by the component before done is closed
	result  *classifier.Prediction
	err     error
	applied bool
}

func newSubmission(parent context.Context, token uint64, requestID string) *Submission {
	ctx, cancel := context.WithCancel(parent)
	return &Submission{
		token:     token,
		requestID: requestID,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Token is the request token; higher tokens belong to newer selections.
func (s *Submission) Token() uint64 { return s.token }

// RequestID identifies the submission in logs and traces.
func (s *Submission) RequestID() string { return s.requestID }

// Cancel aborts the classifier request. Safe to call more than once.
func (s *Submission) Cancel() { s.cancel() }

// Done is closed once the outcome has been applied or discarded.
func (s *Submission) Done() <-chan struct{} { return s.done }

// Wait blocks until the submission finishes or ctx ends.
func (s *Submission) Wait(ctx context.Context) (*classifier.Prediction, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !s.applied {
		return nil, ErrSuperseded
	}
	return s.result, s.err
}
