package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/go-astroduel/pkg/config"
	"github.com/opd-ai/go-astroduel/pkg/event"
	"github.com/opd-ai/go-astroduel/pkg/logging"
	"github.com/opd-ai/go-astroduel/pkg/physics"
	"github.com/opd-ai/go-astroduel/pkg/proto"
)

type sentMessage struct {
	ConnID  string
	Kind    proto.Kind
	Payload any
}

// fakeSink records every outbound message for assertions.
type fakeSink struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *fakeSink) Send(connID string, kind proto.Kind, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{ConnID: connID, Kind: kind, Payload: payload})
}

func (s *fakeSink) messages(kind proto.Kind) []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentMessage
	for _, m := range s.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

func testRules() config.GameRules {
	rules := config.DefaultConfig().Rules
	rules.PowerUpSpawnChance = 0 // keep turn resolution deterministic
	return rules
}

var testBounds = physics.Bounds{Width: 800, Height: 600}

// newStartedRoom returns a room with both seats filled and the sink cleared
// of join traffic.
func newStartedRoom(t *testing.T, rules config.GameRules) (*Room, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	r := NewRoom("R1", rules, testBounds, sink, event.NewEventBus(), nil, logging.NewLogger())

	if _, err := r.Join("conn-a", "alice", 101); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if _, err := r.Join("conn-b", "bob", 102); err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	sink.reset()
	return r, sink
}

func TestJoin_SeatsAndStart(t *testing.T) {
	sink := &fakeSink{}
	r := NewRoom("R1", testRules(), testBounds, sink, event.NewEventBus(), nil, logging.NewLogger())

	slot, err := r.Join("conn-a", "alice", 0)
	if err != nil || slot != 0 {
		t.Fatalf("first join = (%d, %v), want (0, nil)", slot, err)
	}
	if r.Status() != StatusWaiting {
		t.Error("room should wait for a second player")
	}
	if len(sink.messages(proto.GameStart)) != 0 {
		t.Error("gameStart must not fire with one player")
	}

	joined := sink.messages(proto.RoomJoined)
	if len(joined) != 1 {
		t.Fatalf("expected 1 roomJoined message, got %d", len(joined))
	}
	payload := joined[0].Payload.(proto.RoomJoinedPayload)
	if payload.HazardSeed != "R1_hazardSeed" {
		t.Errorf("hazard seed = %q, want R1_hazardSeed", payload.HazardSeed)
	}
	if len(payload.State.Hazards) != 10 {
		t.Errorf("expected 10 hazards in join snapshot, got %d", len(payload.State.Hazards))
	}

	slot, err = r.Join("conn-b", "bob", 0)
	if err != nil || slot != 1 {
		t.Fatalf("second join = (%d, %v), want (1, nil)", slot, err)
	}
	if r.Status() != StatusInProgress {
		t.Error("room should be in progress with two players")
	}

	starts := sink.messages(proto.GameStart)
	if len(starts) != 2 {
		t.Fatalf("expected gameStart broadcast to both players, got %d", len(starts))
	}
	if starts[0].Payload.(proto.GameStartPayload).StartingTurn != 0 {
		t.Error("slot 0 should own the opening turn")
	}

	if _, err := r.Join("conn-c", "carol", 0); err != ErrRoomFull {
		t.Errorf("third join error = %v, want ErrRoomFull", err)
	}
}

func TestMovePlayer_TurnOwnershipInvariant(t *testing.T) {
	r, sink := newStartedRoom(t, testRules())

	// Slot 1 is not the turn owner: nothing may change.
	before := r.Fuel()
	r.MovePlayer("conn-b", proto.Pose{X: 100, Y: 100})
	r.FireBullet("conn-b", proto.Pose{})
	r.ReportBulletHit("conn-b")
	r.EndBulletFlight("conn-b")

	if r.Fuel() != before {
		t.Error("out-of-turn move must not touch fuel")
	}
	if owner, count := r.TurnState(); owner != 0 || count != 1 {
		t.Errorf("turn state = (%d,%d), want (0,1)", owner, count)
	}
	if r.Scores() != [2]int{0, 0} {
		t.Errorf("scores = %v, want zeros", r.Scores())
	}
	if len(sink.sent) != 0 {
		t.Errorf("out-of-turn actions must not broadcast, got %d messages", len(sink.sent))
	}
}

func TestMovePlayer_AppliesAndEchoesToOpponentOnly(t *testing.T) {
	r, sink := newStartedRoom(t, testRules())

	pose := proto.Pose{X: 120, Y: 240, Rotation: 1.5}
	r.MovePlayer("conn-a", pose)

	moved := sink.messages(proto.PlayerMoved)
	if len(moved) != 1 {
		t.Fatalf("expected exactly 1 playerMoved message, got %d", len(moved))
	}
	if moved[0].ConnID != "conn-b" {
		t.Errorf("playerMoved went to %q, want the opponent conn-b", moved[0].ConnID)
	}
	payload := moved[0].Payload.(proto.PlayerMovedPayload)
	if payload.X != 120 || payload.Y != 240 {
		t.Errorf("unexpected relayed pose %+v", payload.Pose)
	}

	fuel := r.Fuel()
	if fuel[0] != 90 {
		t.Errorf("mover fuel = %g, want 90 after one move", fuel[0])
	}
	if fuel[1] != 100 {
		t.Errorf("opponent fuel = %g, want untouched 100", fuel[1])
	}

	snap := r.Snapshot()
	if snap.Positions[0] == nil || snap.Positions[0].X != 120 {
		t.Error("lastKnownPosition not updated for mover")
	}
	if snap.Positions[1] != nil {
		t.Error("opponent position should stay nil until their first move")
	}
}

func TestMovePlayer_FuelPolicies(t *testing.T) {
	t.Run("partial allows an underfunded move and floors at zero", func(t *testing.T) {
		rules := testRules()
		rules.StartingFuel = 15
		rules.MoveFuelCost = 10
		r, sink := newStartedRoom(t, rules)

		r.MovePlayer("conn-a", proto.Pose{X: 1})
		r.MovePlayer("conn-a", proto.Pose{X: 2}) // 5 left, cost 10: still applies
		if fuel := r.Fuel(); fuel[0] != 0 {
			t.Errorf("fuel = %g, want floor at 0", fuel[0])
		}

		sink.reset()
		r.MovePlayer("conn-a", proto.Pose{X: 3}) // empty pool blocks new attempts
		if len(sink.messages(proto.PlayerMoved)) != 0 {
			t.Error("move with empty pool must be dropped")
		}
	})

	t.Run("strict rejects a move the pool cannot pay for", func(t *testing.T) {
		rules := testRules()
		rules.StartingFuel = 15
		rules.MoveFuelCost = 10
		rules.FuelPolicy = config.FuelPolicyStrict
		r, sink := newStartedRoom(t, rules)

		r.MovePlayer("conn-a", proto.Pose{X: 1})
		sink.reset()
		r.MovePlayer("conn-a", proto.Pose{X: 2}) // 5 left < 10: rejected
		if len(sink.messages(proto.PlayerMoved)) != 0 {
			t.Error("strict policy should reject underfunded move")
		}
		if fuel := r.Fuel(); fuel[0] != 5 {
			t.Errorf("fuel = %g, want 5 (unchanged)", fuel[0])
		}
	})
}

func TestFireBullet_BroadcastsToAllIncludingFirer(t *testing.T) {
	r, sink := newStartedRoom(t, testRules())

	r.FireBullet("conn-a", proto.Pose{X: 40, Y: 300, Rotation: 1.57})

	fired := sink.messages(proto.BulletFired)
	if len(fired) != 2 {
		t.Fatalf("expected bulletFired to both members, got %d", len(fired))
	}
	for _, m := range fired {
		if m.Payload.(proto.BulletFiredPayload).Owner != 0 {
			t.Errorf("bullet owner = %d, want 0", m.Payload.(proto.BulletFiredPayload).Owner)
		}
	}
}

func TestReportBulletHit_ScoresBounty(t *testing.T) {
	r, sink := newStartedRoom(t, testRules())

	r.ReportBulletHit("conn-a")

	if scores := r.Scores(); scores != [2]int{20, 0} {
		t.Errorf("scores = %v, want {20 0}", scores)
	}
	updates := sink.messages(proto.ScoreUpdate)
	if len(updates) != 2 {
		t.Fatalf("expected score broadcast to both members, got %d", len(updates))
	}
	payload := updates[0].Payload.(proto.ScorePayload)
	if payload.Slot0 != 20 || payload.Slot1 != 0 {
		t.Errorf("score payload = %+v, want {20 0}", payload)
	}
}

func TestReportBulletHit_ShieldAbsorbs(t *testing.T) {
	rules := testRules()
	r, sink := newStartedRoom(t, rules)

	// Give the defender (slot 1) a shield via the normal collect path.
	r.AddPendingPickup(proto.Pickup{ID: "P1", Type: PowerUpShield, X: 10, Y: 10})
	r.CollectPowerUp("conn-b", "P1")
	if inst, ok := r.ActivePowerUp(1, PowerUpShield); !ok || inst.TurnsLeft != rules.ShieldTurns {
		t.Fatalf("shield not installed: %+v %v", inst, ok)
	}
	sink.reset()

	r.ReportBulletHit("conn-a")

	if scores := r.Scores(); scores != [2]int{0, 0} {
		t.Errorf("shielded hit must not score, got %v", scores)
	}
	if _, ok := r.ActivePowerUp(1, PowerUpShield); ok {
		t.Error("shield should be consumed by the absorbed hit")
	}
	expired := sink.messages(proto.PowerUpExpired)
	if len(expired) != 2 {
		t.Fatalf("expected one expiry broadcast (2 recipients), got %d messages", len(expired))
	}
	payload := expired[0].Payload.(proto.PowerUpExpiredPayload)
	if payload.Slot != 1 || payload.Type != PowerUpShield {
		t.Errorf("expiry payload = %+v, want slot 1 shield", payload)
	}

	// A second hit lands normally now.
	r.ReportBulletHit("conn-a")
	if scores := r.Scores(); scores != [2]int{20, 0} {
		t.Errorf("scores after unshielded hit = %v, want {20 0}", scores)
	}
}

func TestEndBulletFlight_AdvancesTurn(t *testing.T) {
	r, sink := newStartedRoom(t, testRules())

	owner, _ := r.TurnState()
	if owner != 0 {
		t.Fatalf("precondition: slot 0 owns turn, got %d", owner)
	}
	r.EndBulletFlight("conn-a")

	owner, count := r.TurnState()
	if owner != 1 || count != 2 {
		t.Errorf("turn state = (%d,%d), want (1,2)", owner, count)
	}
	if fuel := r.Fuel(); fuel[1] != 100 {
		t.Errorf("new owner fuel = %g, want full refill", fuel[1])
	}

	changes := sink.messages(proto.TurnChange)
	if len(changes) != 2 {
		t.Fatalf("expected turnChange to both members, got %d", len(changes))
	}
	payload := changes[0].Payload.(proto.TurnChangePayload)
	if payload.CurrentTurn != 1 || payload.TurnCount != 2 {
		t.Errorf("turnChange payload = %+v", payload)
	}
	if len(payload.Hazards) != 10 {
		t.Errorf("turnChange should carry the hazard snapshot, got %d units", len(payload.Hazards))
	}
}

// The end-to-end shot-and-score scenario: fire, hit, flight end.
func TestScenario_FireHitAdvance(t *testing.T) {
	r, _ := newStartedRoom(t, testRules())

	r.FireBullet("conn-a", proto.Pose{X: 40, Y: 300, Rotation: 1.57})
	r.ReportBulletHit("conn-a")
	if scores := r.Scores(); scores != [2]int{20, 0} {
		t.Fatalf("scores = %v, want {20 0}", scores)
	}

	r.EndBulletFlight("conn-a")
	owner, count := r.TurnState()
	if owner != 1 || count != 2 {
		t.Errorf("turn state = (%d,%d), want (1,2)", owner, count)
	}
	if fuel := r.Fuel(); fuel[1] != 100 {
		t.Errorf("slot 1 fuel = %g, want 100", fuel[1])
	}
}

func TestReportHazardHit_RemovesScoresAndAdvances(t *testing.T) {
	r, sink := newStartedRoom(t, testRules())

	r.ReportHazardHit("conn-a", 3)

	if scores := r.Scores(); scores != [2]int{10, 0} {
		t.Errorf("scores = %v, want {10 0}", scores)
	}
	if len(sink.messages(proto.HazardDestroyed)) != 2 {
		t.Error("expected hazardDestroyed broadcast to both members")
	}
	if owner, count := r.TurnState(); owner != 1 || count != 2 {
		t.Errorf("turn state = (%d,%d), want (1,2)", owner, count)
	}
	if got := len(r.Snapshot().Hazards); got != 9 {
		t.Errorf("hazard count = %d, want 9", got)
	}

	// Duplicate report for the destroyed unit: no score, no advance.
	r.EndBulletFlight("conn-b") // hand turn back to slot 0
	sink.reset()
	r.ReportHazardHit("conn-a", 3)
	if scores := r.Scores(); scores != [2]int{10, 0} {
		t.Errorf("duplicate hit scored: %v", scores)
	}
	if owner, _ := r.TurnState(); owner != 0 {
		t.Error("duplicate hit must not advance the turn")
	}
	if len(sink.sent) != 0 {
		t.Error("duplicate hit must not broadcast")
	}
}

func TestReportHazardHit_EitherSeatCreditsTurnOwner(t *testing.T) {
	r, sink := newStartedRoom(t, testRules())

	// Slot 0 owns the turn, but the opponent's client resolves the
	// bullet-hazard intersection first and reports it.
	r.ReportHazardHit("conn-b", 5)

	if scores := r.Scores(); scores != [2]int{10, 0} {
		t.Errorf("scores = %v, want bounty credited to the turn owner", scores)
	}
	if owner, count := r.TurnState(); owner != 1 || count != 2 {
		t.Errorf("turn state = (%d,%d), want (1,2)", owner, count)
	}

	// The slower client's duplicate for the same unit is a no-op.
	sink.reset()
	r.ReportHazardHit("conn-a", 5)
	if scores := r.Scores(); scores != [2]int{10, 0} {
		t.Errorf("duplicate hit scored: %v", scores)
	}
	if len(sink.sent) != 0 {
		t.Error("duplicate hit must not broadcast")
	}

	// Unknown connections are still dropped.
	r.ReportHazardHit("conn-z", 6)
	if got := len(r.Snapshot().Hazards); got != 9 {
		t.Errorf("hazard count = %d, want 9 after a stranger's report", got)
	}
}

func TestReportHazardCollision_PenaltyDedupAndFloor(t *testing.T) {
	rules := testRules()
	r, sink := newStartedRoom(t, rules)

	// Penalty applies once per (slot, hazard, turn) even when reported
	// twice, and a zero score never goes negative.
	r.ReportHazardCollision("conn-b", 7)
	r.ReportHazardCollision("conn-b", 7)
	if scores := r.Scores(); scores != [2]int{0, 0} {
		t.Errorf("scores = %v, want floor at 0", scores)
	}
	if n := len(sink.messages(proto.ScoreUpdate)); n != 2 {
		t.Errorf("expected one score broadcast (2 recipients), got %d", n)
	}

	// New turn: the same hazard forms a fresh tuple and deducts again; a
	// different hazard in the same turn deducts independently.
	r.EndBulletFlight("conn-a")
	r.ReportBulletHit("conn-b")
	if scores := r.Scores(); scores[1] != 20 {
		t.Fatalf("setup: slot1 score = %d, want 20", scores[1])
	}
	r.ReportHazardCollision("conn-b", 7)
	if scores := r.Scores(); scores[1] != 15 {
		t.Errorf("slot1 score = %d, want 15 (same hazard, new turn)", scores[1])
	}
	r.ReportHazardCollision("conn-b", 8)
	if scores := r.Scores(); scores[1] != 10 {
		t.Errorf("slot1 score = %d, want 10 (second hazard, same turn)", scores[1])
	}
}

func TestCollectPowerUp_FirstAcceptWins(t *testing.T) {
	r, sink := newStartedRoom(t, testRules())

	r.AddPendingPickup(proto.Pickup{ID: "P1", Type: PowerUpShield, X: 400, Y: 300})
	sink.reset()

	r.CollectPowerUp("conn-b", "P1")
	r.CollectPowerUp("conn-a", "P1") // loser of the race: no-op

	if _, ok := r.ActivePowerUp(1, PowerUpShield); !ok {
		t.Error("first claimant should hold the shield")
	}
	if _, ok := r.ActivePowerUp(0, PowerUpShield); ok {
		t.Error("second claimant must not receive the shield")
	}
	if len(r.PendingPickups()) != 0 {
		t.Error("claimed pickup should leave the pending list")
	}

	removed := sink.messages(proto.PowerUpRemoved)
	if len(removed) != 2 {
		t.Fatalf("expected one removal broadcast (2 recipients), got %d", len(removed))
	}
	payload := removed[0].Payload.(proto.PowerUpRemovedPayload)
	if payload.PickupID != "P1" || payload.Slot != 1 {
		t.Errorf("removal payload = %+v, want P1 to slot 1", payload)
	}
}

func TestShield_ExpiresAfterThreeTurnsExactlyOnce(t *testing.T) {
	r, sink := newStartedRoom(t, testRules())

	r.AddPendingPickup(proto.Pickup{ID: "P1", Type: PowerUpShield, X: 1, Y: 1})
	r.CollectPowerUp("conn-a", "P1")
	if inst, ok := r.ActivePowerUp(0, PowerUpShield); !ok || inst.TurnsLeft != 3 {
		t.Fatalf("shield turnsLeft = %+v, want 3", inst)
	}
	sink.reset()

	conns := []string{"conn-a", "conn-b", "conn-a", "conn-b"}
	for i := 0; i < 3; i++ {
		r.EndBulletFlight(conns[i])
	}

	if _, ok := r.ActivePowerUp(0, PowerUpShield); ok {
		t.Error("shield should expire after 3 turns")
	}
	expired := sink.messages(proto.PowerUpExpired)
	if len(expired) != 2 {
		t.Fatalf("expected exactly one expiry broadcast (2 recipients), got %d", len(expired))
	}

	// Further turns must not re-emit the expiry.
	r.EndBulletFlight(conns[3])
	if n := len(sink.messages(proto.PowerUpExpired)); n != 2 {
		t.Errorf("expiry re-emitted: %d messages", n)
	}
}

func TestGame_TerminatesAtThresholdExactlyOnce(t *testing.T) {
	rules := testRules()
	rules.TurnLimit = 5
	r, sink := newStartedRoom(t, rules)

	conns := [2]string{"conn-a", "conn-b"}
	turns := 0
	for r.Status() == StatusInProgress {
		owner, _ := r.TurnState()
		r.EndBulletFlight(conns[owner])
		turns++
		if turns > 100 {
			t.Fatal("game never finished")
		}
	}

	if _, count := r.TurnState(); count != 5 {
		t.Errorf("turnCount at finish = %d, want exactly the threshold 5", count)
	}
	if turns != 4 {
		t.Errorf("advances to finish = %d, want 4 (turnCount 1→5)", turns)
	}
	over := sink.messages(proto.GameOver)
	if len(over) != 2 {
		t.Fatalf("expected one gameOver broadcast (2 recipients), got %d", len(over))
	}

	// The terminal state is final: no further actions or second finish.
	owner, count := r.TurnState()
	r.EndBulletFlight(conns[owner])
	if _, c := r.TurnState(); c != count {
		t.Error("finished room must not advance turns")
	}
	if n := len(sink.messages(proto.GameOver)); n != 2 {
		t.Errorf("gameOver emitted again: %d messages", n)
	}
}

func TestGameOver_WinnerAndDraw(t *testing.T) {
	t.Run("higher score wins", func(t *testing.T) {
		rules := testRules()
		rules.TurnLimit = 2
		r, sink := newStartedRoom(t, rules)

		r.ReportBulletHit("conn-a")
		r.EndBulletFlight("conn-a")

		over := sink.messages(proto.GameOver)
		if len(over) == 0 {
			t.Fatal("expected gameOver broadcast")
		}
		payload := over[0].Payload.(proto.GameOverPayload)
		if payload.WinnerName != "alice" {
			t.Errorf("winner = %q, want alice", payload.WinnerName)
		}
		if payload.Scores != (proto.ScorePayload{Slot0: 20, Slot1: 0}) {
			t.Errorf("scores = %+v", payload.Scores)
		}
		if payload.Participants != [2]string{"alice", "bob"} {
			t.Errorf("participants = %v", payload.Participants)
		}
	})

	t.Run("equal scores draw", func(t *testing.T) {
		rules := testRules()
		rules.TurnLimit = 2
		r, sink := newStartedRoom(t, rules)

		r.EndBulletFlight("conn-a")

		over := sink.messages(proto.GameOver)
		if len(over) == 0 {
			t.Fatal("expected gameOver broadcast")
		}
		if name := over[0].Payload.(proto.GameOverPayload).WinnerName; name != "" {
			t.Errorf("draw should carry empty winner name, got %q", name)
		}
	})
}

func TestTickHazards_BroadcastsAndStopsWhenFinished(t *testing.T) {
	rules := testRules()
	rules.TurnLimit = 2
	r, sink := newStartedRoom(t, rules)

	r.TickHazards(50, time.Now().UnixMilli())
	ticks := sink.messages(proto.HazardTick)
	if len(ticks) != 2 {
		t.Fatalf("expected hazardTick to both members, got %d", len(ticks))
	}
	positions := ticks[0].Payload.(proto.HazardTickPayload).Hazards
	if len(positions) != 10 {
		t.Fatalf("tick carried %d hazards, want 10", len(positions))
	}
	// The tick is position-only; the matching full state comes from the
	// turn snapshot under the same ids.
	full := r.Snapshot().Hazards
	for i, p := range positions {
		if p.ID != full[i].ID || p.X != full[i].X || p.Y != full[i].Y {
			t.Errorf("tick position %d = %+v, want id/x/y of %+v", i, p, full[i])
		}
	}

	r.EndBulletFlight("conn-a") // finishes at TurnLimit 2
	sink.reset()
	r.TickHazards(50, time.Now().UnixMilli())
	if len(sink.messages(proto.HazardTick)) != 0 {
		t.Error("finished rooms must not tick")
	}
}

func TestLeave_NotifiesRemainingPlayer(t *testing.T) {
	r, sink := newStartedRoom(t, testRules())

	if empty := r.Leave("conn-a"); empty {
		t.Error("room with one remaining player is not empty")
	}
	left := sink.messages(proto.PlayerLeft)
	if len(left) != 1 || left[0].ConnID != "conn-b" {
		t.Fatalf("expected playerLeft to the survivor, got %+v", left)
	}
	if left[0].Payload.(proto.PlayerLeftPayload).Name != "alice" {
		t.Errorf("unexpected leaver name %+v", left[0].Payload)
	}

	if empty := r.Leave("conn-b"); !empty {
		t.Error("room should report empty after last leave")
	}
}

// fakeRecorder captures persistence calls from finished games.
type fakeRecorder struct {
	mu      sync.Mutex
	created [][2]int64
	results []MatchResult
	replays [][]byte
	done    chan struct{}
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{done: make(chan struct{}, 1)}
}

func (f *fakeRecorder) CreateGameRecord(_ context.Context, u1, u2 int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, [2]int64{u1, u2})
	return 77, nil
}

func (f *fakeRecorder) RecordGameStats(_ context.Context, gameID int64, result MatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return nil
}

func (f *fakeRecorder) SaveReplay(_ context.Context, gameID int64, log []byte) error {
	f.mu.Lock()
	f.replays = append(f.replays, log)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func TestFinish_PersistsMatchAndReplay(t *testing.T) {
	rules := testRules()
	rules.TurnLimit = 3
	rec := newFakeRecorder()
	sink := &fakeSink{}
	r := NewRoom("R1", rules, testBounds, sink, event.NewEventBus(), rec, logging.NewLogger())
	r.Join("conn-a", "alice", 101)
	r.Join("conn-b", "bob", 102)

	r.ReportBulletHit("conn-a")
	r.EndBulletFlight("conn-a")
	r.EndBulletFlight("conn-b")

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("persistence never completed")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.created) != 1 || rec.created[0] != [2]int64{101, 102} {
		t.Errorf("game record = %v, want [[101 102]]", rec.created)
	}
	if len(rec.results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(rec.results))
	}
	res := rec.results[0]
	if res.Draw || res.WinnerID != 101 || res.WinnerScore != 20 || res.LoserScore != 0 {
		t.Errorf("unexpected result %+v", res)
	}

	if len(rec.replays) != 1 {
		t.Fatalf("expected 1 replay blob, got %d", len(rec.replays))
	}
	turns, err := UnmarshalReplay(rec.replays[0])
	if err != nil {
		t.Fatalf("replay blob does not parse: %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("replay has %d turns, want 2", len(turns))
	}
}

func TestFinish_SkipsPersistenceForTwoGuests(t *testing.T) {
	rules := testRules()
	rules.TurnLimit = 2
	rec := newFakeRecorder()
	sink := &fakeSink{}
	r := NewRoom("R1", rules, testBounds, sink, event.NewEventBus(), rec, logging.NewLogger())
	r.Join("conn-a", "guest-a", 0)
	r.Join("conn-b", "guest-b", 0)

	r.EndBulletFlight("conn-a")

	time.Sleep(50 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.created) != 0 {
		t.Error("guest-only matches must not be persisted")
	}
}
