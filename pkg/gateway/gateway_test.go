package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opd-ai/go-astroduel/pkg/config"
	"github.com/opd-ai/go-astroduel/pkg/event"
	"github.com/opd-ai/go-astroduel/pkg/logging"
	"github.com/opd-ai/go-astroduel/pkg/proto"
	"github.com/opd-ai/go-astroduel/pkg/room"
)

func newTestServer(t *testing.T) (*httptest.Server, *Gateway) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Rules.PowerUpSpawnChance = 0
	logger := logging.NewLogger()

	gw := NewGateway(cfg, logger)
	registry := room.NewRegistry(cfg, gw, event.NewEventBus(), nil, logger)
	gw.SetRegistry(registry)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, gw
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, kind proto.Kind, payload any) {
	t.Helper()
	data, err := proto.Encode(kind, payload)
	if err != nil {
		t.Fatalf("encode %s failed: %v", kind, err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s failed: %v", kind, err)
	}
}

// expect reads frames until one of the wanted kind arrives, failing on
// timeout. Unrelated frames in between are skipped.
func expect(t *testing.T, ws *websocket.Conn, kind proto.Kind) proto.Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", kind, err)
		}
		env, err := proto.Decode(data)
		if err != nil {
			t.Fatalf("bad frame while waiting for %s: %v", kind, err)
		}
		if env.Type == kind {
			return env
		}
	}
}

func TestGateway_MatchmakesTwoClients(t *testing.T) {
	srv, _ := newTestServer(t)

	wsA := dial(t, srv)
	send(t, wsA, proto.AutoJoin, proto.AutoJoinPayload{Username: "alice"})

	var joinedA proto.RoomJoinedPayload
	if err := expect(t, wsA, proto.RoomJoined).DecodePayload(&joinedA); err != nil {
		t.Fatalf("decode roomJoined: %v", err)
	}
	if joinedA.SlotIndex != 0 {
		t.Errorf("first client slot = %d, want 0", joinedA.SlotIndex)
	}
	if joinedA.HazardSeed == "" || len(joinedA.State.Hazards) == 0 {
		t.Error("join snapshot missing hazard field")
	}

	wsB := dial(t, srv)
	send(t, wsB, proto.AutoJoin, proto.AutoJoinPayload{Username: "bob"})

	var joinedB proto.RoomJoinedPayload
	if err := expect(t, wsB, proto.RoomJoined).DecodePayload(&joinedB); err != nil {
		t.Fatalf("decode roomJoined: %v", err)
	}
	if joinedB.RoomID != joinedA.RoomID || joinedB.SlotIndex != 1 {
		t.Errorf("second client landed in (%s, %d), want (%s, 1)", joinedB.RoomID, joinedB.SlotIndex, joinedA.RoomID)
	}

	var start proto.GameStartPayload
	if err := expect(t, wsA, proto.GameStart).DecodePayload(&start); err != nil {
		t.Fatalf("decode gameStart: %v", err)
	}
	if start.StartingTurn != 0 {
		t.Errorf("starting turn = %d, want 0", start.StartingTurn)
	}
	expect(t, wsB, proto.GameStart)
}

func TestGateway_RelaysMoveToOpponent(t *testing.T) {
	srv, _ := newTestServer(t)

	wsA := dial(t, srv)
	send(t, wsA, proto.AutoJoin, proto.AutoJoinPayload{Username: "alice"})
	var joined proto.RoomJoinedPayload
	expect(t, wsA, proto.RoomJoined).DecodePayload(&joined)

	wsB := dial(t, srv)
	send(t, wsB, proto.AutoJoin, proto.AutoJoinPayload{Username: "bob"})
	expect(t, wsB, proto.RoomJoined)
	expect(t, wsA, proto.GameStart)
	expect(t, wsB, proto.GameStart)

	send(t, wsA, proto.UpdatePosition, proto.MovePayload{
		RoomID: joined.RoomID,
		Pose:   proto.Pose{X: 150, Y: 250, Rotation: 0.5},
	})

	var moved proto.PlayerMovedPayload
	if err := expect(t, wsB, proto.PlayerMoved).DecodePayload(&moved); err != nil {
		t.Fatalf("decode playerMoved: %v", err)
	}
	if moved.X != 150 || moved.Y != 250 {
		t.Errorf("relayed pose = (%g, %g), want (150, 250)", moved.X, moved.Y)
	}
}

func TestGateway_RejectsMismatchedRoomID(t *testing.T) {
	srv, _ := newTestServer(t)

	wsA := dial(t, srv)
	send(t, wsA, proto.AutoJoin, proto.AutoJoinPayload{Username: "alice"})
	expect(t, wsA, proto.RoomJoined)

	wsB := dial(t, srv)
	send(t, wsB, proto.AutoJoin, proto.AutoJoinPayload{Username: "bob"})
	expect(t, wsB, proto.RoomJoined)
	expect(t, wsB, proto.GameStart)

	// Wrong room id: the move is dropped and nothing reaches the opponent.
	send(t, wsA, proto.UpdatePosition, proto.MovePayload{
		RoomID: "room-bogus",
		Pose:   proto.Pose{X: 10, Y: 10},
	})

	wsB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		_, data, err := wsB.ReadMessage()
		if err != nil {
			break // timeout: nothing arrived, as expected
		}
		env, _ := proto.Decode(data)
		if env.Type == proto.PlayerMoved {
			t.Fatal("move with mismatched room id was relayed")
		}
	}
}

func TestGateway_GuestGetsGeneratedName(t *testing.T) {
	srv, gw := newTestServer(t)

	ws := dial(t, srv)
	send(t, ws, proto.AutoJoin, proto.AutoJoinPayload{})
	expect(t, ws, proto.RoomJoined)

	if gw.ConnectionCount() != 1 {
		t.Errorf("connection count = %d, want 1", gw.ConnectionCount())
	}
}

func TestGateway_DisconnectNotifiesOpponent(t *testing.T) {
	srv, _ := newTestServer(t)

	wsA := dial(t, srv)
	send(t, wsA, proto.AutoJoin, proto.AutoJoinPayload{Username: "alice"})
	expect(t, wsA, proto.RoomJoined)

	wsB := dial(t, srv)
	send(t, wsB, proto.AutoJoin, proto.AutoJoinPayload{Username: "bob"})
	expect(t, wsB, proto.RoomJoined)
	expect(t, wsB, proto.GameStart)

	wsA.Close()

	var left proto.PlayerLeftPayload
	if err := expect(t, wsB, proto.PlayerLeft).DecodePayload(&left); err != nil {
		t.Fatalf("decode playerLeft: %v", err)
	}
	if left.Name != "alice" {
		t.Errorf("leaver name = %q, want alice", left.Name)
	}
}
