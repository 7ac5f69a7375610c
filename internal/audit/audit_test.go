package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tjfontaine/autopilot-gateway/internal/domain"
)

type fakeSink struct {
	mu        sync.Mutex
	decisions []domain.RoutingDecision
	attempts  []domain.ValidationAttempt
	fail      bool
}

func (f *fakeSink) InsertRoutingDecision(ctx context.Context, d *domain.RoutingDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("sink down")
	}
	f.decisions = append(f.decisions, *d)
	return nil
}

func (f *fakeSink) InsertValidationAttempt(ctx context.Context, a *domain.ValidationAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("sink down")
	}
	f.attempts = append(f.attempts, *a)
	return nil
}

func TestAsyncRecorderDelivers(t *testing.T) {
	sink := &fakeSink{}
	r := NewAsyncRecorder(sink, nil)

	r.RecordRoutingDecision(&domain.RoutingDecision{ID: "dec-1", OrgID: "org-1"})
	r.RecordValidationAttempt(&domain.ValidationAttempt{ID: "att-1", OrgID: "org-1"})
	r.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.decisions) != 1 || sink.decisions[0].ID != "dec-1" {
		t.Errorf("decisions = %+v, want one record", sink.decisions)
	}
	if len(sink.attempts) != 1 || sink.attempts[0].ID != "att-1" {
		t.Errorf("attempts = %+v, want one record", sink.attempts)
	}
}

func TestAsyncRecorderSwallowsSinkFailure(t *testing.T) {
	sink := &fakeSink{fail: true}
	r := NewAsyncRecorder(sink, nil)

	// Must not panic or block even when every write fails.
	for i := 0; i < 10; i++ {
		r.RecordRoutingDecision(&domain.RoutingDecision{ID: "dec", OrgID: "org-1"})
	}
	r.Close()
}
