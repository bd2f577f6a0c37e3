package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/buzzboard/buzzboard/internal/game/events"
	"github.com/buzzboard/buzzboard/internal/models"
	"github.com/buzzboard/buzzboard/internal/roomsync"
)

type fakeRoomSync struct {
	mu          sync.Mutex
	existsAfter int // RoomExists returns true from this call count on
	existsCalls int
	buzzWins    bool
	buzzSlot    models.BuzzerSlot
	commands    []roomsync.Command
	consume     func(handler func(roomsync.Envelope))
}

func (f *fakeRoomSync) RoomExists(ctx context.Context, roomCode string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	return f.existsCalls >= f.existsAfter, nil
}

func (f *fakeRoomSync) ConditionalBuzz(ctx context.Context, roomCode string, press models.BuzzerPress) (bool, models.BuzzerSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buzzWins {
		p := press
		return true, models.BuzzerSlot{Enabled: false, Press: &p, Epoch: f.buzzSlot.Epoch}, nil
	}
	return false, f.buzzSlot, nil
}

func (f *fakeRoomSync) PublishCommand(ctx context.Context, cmd roomsync.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeRoomSync) WatchTeams(ctx context.Context, roomCode string) (<-chan []models.Team, error) {
	return make(chan []models.Team), nil
}

func (f *fakeRoomSync) WatchBuzzerSlot(ctx context.Context, roomCode string) (<-chan models.BuzzerSlot, error) {
	return make(chan models.BuzzerSlot), nil
}

func (f *fakeRoomSync) WatchRotation(ctx context.Context, roomCode string) (<-chan events.RoomRotatedPayload, error) {
	return make(chan events.RoomRotatedPayload), nil
}

func (f *fakeRoomSync) ConsumeEvents(ctx context.Context, roomCode string, handler func(roomsync.Envelope)) error {
	if f.consume != nil {
		f.consume(handler)
	}
	<-ctx.Done()
	return nil
}

func newTestService(t *testing.T, sync *fakeRoomSync, clock clockwork.Clock) (*Service, *ConnectionManager) {
	t.Helper()
	cm := NewConnectionManager(DefaultConnectionConfig())
	svc, err := NewService(cm, sync, clock)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, cm
}

// testConnection registers a connection without a real socket; frames
// accumulate in Send.
func testConnection(cm *ConnectionManager, roomCode string) *Connection {
	conn := &Connection{
		ID:       "test-conn",
		RoomCode: roomCode,
		Send:     make(chan []byte, 16),
		Manager:  cm,
	}
	cm.registerConnection(conn)
	return conn
}

func recvFrame(t *testing.T, conn *Connection) ServerFrame {
	t.Helper()
	select {
	case data := <-conn.Send:
		var frame ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return ServerFrame{}
	}
}

func TestWaitForRoomWithinGracePeriod(t *testing.T) {
	t.Parallel()
	sync := &fakeRoomSync{existsAfter: 3}
	svc, _ := newTestService(t, sync, clockwork.NewRealClock())

	exists, err := svc.waitForRoom(context.Background(), "ROOM42")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("room appearing within the grace period was not found")
	}
	sync.mu.Lock()
	calls := sync.existsCalls
	sync.mu.Unlock()
	if calls < 3 {
		t.Errorf("existence polled %d times, want at least 3", calls)
	}
}

func TestWaitForRoomGivesUp(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	sync := &fakeRoomSync{existsAfter: 1 << 30}
	svc, _ := newTestService(t, sync, clock)

	go func() {
		for {
			clock.BlockUntil(1)
			clock.Advance(joinPollEvery)
		}
	}()

	exists, err := svc.waitForRoom(context.Background(), "NOROOM")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("nonexistent room reported as found")
	}
}

func TestHandleBuzzCommitted(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sync := &fakeRoomSync{buzzWins: true, buzzSlot: models.BuzzerSlot{Epoch: 5}}
	svc, cm := newTestService(t, sync, clockwork.NewFakeClockAt(time.Unix(1700000000, 0)))
	go cm.Start(ctx)

	conn := testConnection(cm, "ROOM42")
	conn.SetPlayer("p1", "Ada", "t1", "Reds")

	svc.handleClientFrame(conn, []byte(`{"type":"buzz"}`))

	frame := recvFrame(t, conn)
	if frame.Type != FrameTypeBuzzResult {
		t.Fatalf("frame type = %q, want buzz_result", frame.Type)
	}
	data, _ := json.Marshal(frame.Payload)
	var result BuzzResultPayload
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if !result.Committed {
		t.Error("winning buzz reported as lost")
	}
	if result.Slot.Press == nil || result.Slot.Press.TeamID != "t1" {
		t.Errorf("result slot = %+v, want own press", result.Slot)
	}
}

func TestHandleBuzzLost(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	winner := models.BuzzerPress{PlayerID: "p2", TeamID: "t2", TeamName: "Blues"}
	sync := &fakeRoomSync{buzzWins: false, buzzSlot: models.BuzzerSlot{Press: &winner, Epoch: 5}}
	svc, cm := newTestService(t, sync, clockwork.NewFakeClock())
	go cm.Start(ctx)

	conn := testConnection(cm, "ROOM42")
	conn.SetPlayer("p1", "Ada", "t1", "Reds")

	svc.handleClientFrame(conn, []byte(`{"type":"buzz"}`))

	frame := recvFrame(t, conn)
	data, _ := json.Marshal(frame.Payload)
	var result BuzzResultPayload
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if result.Committed {
		t.Error("losing buzz reported as committed")
	}
	if result.Slot.Press == nil || result.Slot.Press.TeamID != "t2" {
		t.Errorf("result slot = %+v, want the winning press", result.Slot)
	}
}

func TestBuzzBeforeJoinRejected(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, cm := newTestService(t, &fakeRoomSync{}, clockwork.NewFakeClock())
	go cm.Start(ctx)

	conn := testConnection(cm, "ROOM42")
	svc.handleClientFrame(conn, []byte(`{"type":"buzz"}`))

	frame := recvFrame(t, conn)
	if frame.Type != FrameTypeError {
		t.Errorf("frame type = %q, want error", frame.Type)
	}
}

func TestHandleJoinPublishesCommand(t *testing.T) {
	t.Parallel()
	sync := &fakeRoomSync{}
	svc, cm := newTestService(t, sync, clockwork.NewFakeClock())

	conn := testConnection(cm, "ROOM42")
	svc.handleClientFrame(conn, []byte(`{"type":"join","payload":{"playerId":"p1","playerName":"Ada","teamId":"t1"}}`))

	sync.mu.Lock()
	defer sync.mu.Unlock()
	if len(sync.commands) != 1 {
		t.Fatalf("published %d commands, want 1", len(sync.commands))
	}
	cmd := sync.commands[0]
	if cmd.Type != roomsync.CmdTypeJoin || cmd.RoomCode != "ROOM42" {
		t.Errorf("command = %+v", cmd)
	}
	var p models.Player
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.ID != "p1" || p.TeamID != "t1" {
		t.Errorf("player payload = %+v", p)
	}

	if _, _, teamID, _ := conn.Player(); teamID != "t1" {
		t.Error("join did not stick to the connection")
	}
}

func TestEventConsumerDedupes(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	envelopes := []roomsync.Envelope{
		{EventID: "e1", EventType: "TeamBuzzed", RoomCode: "ROOM42"},
		{EventID: "e1", EventType: "TeamBuzzed", RoomCode: "ROOM42"}, // redelivery
		{EventID: "e2", EventType: "AnswerJudged", RoomCode: "ROOM42"},
	}
	sync := &fakeRoomSync{consume: func(handler func(roomsync.Envelope)) {
		for _, env := range envelopes {
			handler(env)
		}
	}}
	svc, cm := newTestService(t, sync, clockwork.NewFakeClock())
	conn := testConnection(cm, "ROOM42")

	go svc.Start(ctx)

	first := recvFrame(t, conn)
	second := recvFrame(t, conn)
	for _, frame := range []ServerFrame{first, second} {
		if frame.Type != FrameTypeEvent {
			t.Fatalf("frame type = %q, want event", frame.Type)
		}
	}

	select {
	case data := <-conn.Send:
		t.Fatalf("unexpected third frame: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}
