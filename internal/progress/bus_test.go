package progress

import (
	"testing"
	"time"
)

func TestIntermediateUpdatesConflate(t *testing.T) {
	b := NewBus()
	b.Publish(Update{Phase: PhaseInit, Percent: 0})
	b.Publish(Update{Phase: PhaseCategories, Percent: 10})
	b.Publish(Update{Phase: PhaseProducts, Percent: 30})

	done := make(chan struct{})
	u, ok := b.Next(done)
	if !ok {
		t.Fatal("expected pending update")
	}
	if u.Phase != PhaseProducts || u.Percent != 30 {
		t.Fatalf("expected conflation to keep the newest update, got %+v", u)
	}
}

func TestTerminalUpdateSurvivesConflation(t *testing.T) {
	b := NewBus()
	b.Publish(Update{Phase: PhaseProducts, Percent: 50})
	b.Publish(Update{Phase: PhaseCommit, Percent: 100, Outcome: OutcomeSucceeded})

	done := make(chan struct{})
	u, ok := b.Next(done)
	if !ok || !u.Terminal() {
		t.Fatalf("expected terminal update, got %+v ok=%v", u, ok)
	}
	if u.Outcome != OutcomeSucceeded {
		t.Fatalf("unexpected outcome %q", u.Outcome)
	}
}

func TestNewRunDoesNotOverwritePendingOutcome(t *testing.T) {
	b := NewBus()
	b.Publish(Update{Outcome: OutcomeFailed, Err: "remote unavailable"})
	b.Publish(Update{Phase: PhaseInit, Percent: 0})

	done := make(chan struct{})
	u, _ := b.Next(done)
	if u.Outcome != OutcomeFailed {
		t.Fatalf("terminal outcome was dropped, got %+v", u)
	}
	u, _ = b.Next(done)
	if u.Phase != PhaseInit {
		t.Fatalf("expected next run's first update, got %+v", u)
	}
}

func TestNextBlocksUntilPublish(t *testing.T) {
	b := NewBus()
	got := make(chan Update, 1)
	go func() {
		u, _ := b.Next(make(chan struct{}))
		got <- u
	}()

	time.Sleep(10 * time.Millisecond)
	b.Publish(Update{Phase: PhaseImages, Percent: 40})

	select {
	case u := <-got:
		if u.Phase != PhaseImages {
			t.Fatalf("unexpected update %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("reader never woke up")
	}
}

func TestNextUnblocksOnDone(t *testing.T) {
	b := NewBus()
	done := make(chan struct{})
	close(done)
	if _, ok := b.Next(done); ok {
		t.Fatal("expected ok=false when done is closed")
	}
}

func TestLatestDoesNotConsume(t *testing.T) {
	b := NewBus()
	if _, ok := b.Latest(); ok {
		t.Fatal("expected no update before first publish")
	}
	b.Publish(Update{Phase: PhaseZombie, Percent: 90})

	u, ok := b.Latest()
	if !ok || u.Phase != PhaseZombie {
		t.Fatalf("latest = %+v ok=%v", u, ok)
	}
	if u2, ok := b.Next(make(chan struct{})); !ok || u2.Phase != PhaseZombie {
		t.Fatalf("Latest must not consume the pending update, got %+v", u2)
	}
}
