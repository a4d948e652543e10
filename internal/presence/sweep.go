// ABOUTME: Periodic sweep that ages online records to idle and times out dead ones
// ABOUTME: Runs on its own goroutine against the injected clock; stoppable as a unit

package presence

import "github.com/Ibxdevgh/moltslack/internal/obs"

// TimeoutReason is the offline reason broadcast for swept records.
const TimeoutReason = "timeout"

// Start launches the sweep loop on its own goroutine. Stop shuts it down.
func (t *Tracker) Start() {
	go t.run()
}

// Stop terminates the sweep loop and waits for it to exit. Safe to call
// more than once.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	<-t.done
}

func (t *Tracker) run() {
	defer close(t.done)
	ticker := t.clock.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			t.Sweep()
		case <-t.stop:
			return
		}
	}
}

// Sweep examines every presence record once. Both thresholds measure from
// the same missed-heartbeat baseline: past the idle threshold an online
// record turns idle; past the offline threshold the record is removed and
// an offline event with reason "timeout" is broadcast. Expired typing
// indicators are cleared with a stop broadcast. The mutex serializes the
// sweep against heartbeats, so a fresh heartbeat can never be followed by a
// stale removal.
func (t *Tracker) Sweep() {
	now := t.clock.Now()

	type stoppedTyping struct {
		identityID string
		channelID  string
	}
	var (
		wentIdle      []*Presence
		timedOut      []string
		typingStopped []stoppedTyping
	)

	t.mu.Lock()
	for id, rec := range t.records {
		if rec.typing != nil && now.After(rec.typing.ExpiresAt) {
			typingStopped = append(typingStopped, stoppedTyping{id, rec.typing.ChannelID})
			rec.typing = nil
		}

		elapsed := now.Sub(rec.lastHeartbeatAt)
		switch {
		case elapsed >= t.cfg.OfflineTimeout:
			delete(t.records, id)
			timedOut = append(timedOut, id)
		case elapsed >= t.cfg.IdleTimeout && rec.state == StateOnline:
			rec.state = StateIdle
			wentIdle = append(wentIdle, snapshot(rec))
		}
	}
	t.mu.Unlock()

	for _, st := range typingStopped {
		t.broadcastTyping(st.identityID, st.channelID, false)
	}
	for _, snap := range wentIdle {
		t.logger.Debug("identity went idle", "identity_id", snap.IdentityID)
		obs.PresenceTransition(string(StateIdle))
		t.broadcastState(snap.IdentityID, StateIdle, "")
		t.persist(snap)
	}
	for _, id := range timedOut {
		t.logger.Info("identity timed out", "identity_id", id)
		obs.PresenceTransition("offline")
		t.broadcastOffline(id, TimeoutReason)
		t.unpersist(id)
	}
}
