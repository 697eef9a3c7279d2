package miner

import (
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestDropEventsCloseBeforeDial(t *testing.T) {
	d := newDropEvents(newTestWorker(&fakeAPI{}), "tok", zap.NewNop())
	d.close()
	d.close()
}

func TestDropEventsConnSwapDuringClose(t *testing.T) {
	d := newDropEvents(newTestWorker(&fakeAPI{}), "tok", zap.NewNop())

	// Reconnects swap the connection from the read-loop goroutine while
	// a worker shutdown reads it.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.setConn(nil)
		}()
	}
	d.close()
	wg.Wait()
}

func TestHandleEventUpdatesDropProgress(t *testing.T) {
	w := newTestWorker(&fakeAPI{})
	c := activeCampaign()
	c.worker = w
	drop := &TimedDrop{ID: "d1", CurrentMinutes: 10, RequiredMinutes: 30, campaign: c}
	c.Drops["d1"] = drop
	w.inventory = []*DropsCampaign{c}

	d := newDropEvents(w, "tok", zap.NewNop())

	d.handleEvent(`{"type":"drop-progress","data":{"drop_id":"d1","current_progress_min":15}}`)
	if drop.CurrentMinutes != 15 {
		t.Errorf("minutes = %d, want 15", drop.CurrentMinutes)
	}

	// Progress never moves backwards.
	d.handleEvent(`{"type":"drop-progress","data":{"drop_id":"d1","current_progress_min":5}}`)
	if drop.CurrentMinutes != 15 {
		t.Errorf("minutes = %d after stale event, want 15", drop.CurrentMinutes)
	}

	d.handleEvent(`{"type":"drop-claim","data":{"drop_id":"d1","drop_instance_id":"claim-d1"}}`)
	if drop.ClaimID != "claim-d1" {
		t.Errorf("claim id = %q", drop.ClaimID)
	}

	// Unknown drops are ignored.
	d.handleEvent(`{"type":"drop-progress","data":{"drop_id":"nope","current_progress_min":99}}`)
}
