package state

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tyuryaga/gameserver/network"
)

// mockPlayer is a test double for the Player interface.
type mockPlayer struct {
	id     string
	userID int64
}

func (p *mockPlayer) GetID() string    { return p.id }
func (p *mockPlayer) GetUserID() int64 { return p.userID }

// mockRoom is a test double for the RoomContext interface.
type mockRoom struct {
	id         string
	instanceID string
	current    State
	broadcasts []uint16
}

func (r *mockRoom) GetID() string                 { return r.id }
func (r *mockRoom) GetInstanceID() string         { return r.instanceID }
func (r *mockRoom) GetPlayers() map[string]Player { return nil }

func (r *mockRoom) ChangeState(newState State) error {
	r.current = newState
	newState.OnEnter()
	return nil
}

func (r *mockRoom) Broadcast(msgID uint16, data []byte) error {
	r.broadcasts = append(r.broadcasts, msgID)
	return nil
}

// mockDelegate is a test double for the BattleDelegate interface.
type mockDelegate struct {
	completed  bool
	err        error
	lastUserID int64
	lastDamage int64
}

func (d *mockDelegate) AttackBoss(userID int64, instanceID string, damage int64) (bool, error) {
	d.lastUserID = userID
	d.lastDamage = damage
	return d.completed, d.err
}

func damagePayload(t *testing.T, damage int64) []byte {
	t.Helper()
	data, err := json.Marshal(network.DealDamageRequest{InstanceID: "inst-1", Damage: damage})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	return data
}

func TestBattleState_HandleAction(t *testing.T) {
	room := &mockRoom{id: "boss_inst-1", instanceID: "inst-1"}
	delegate := &mockDelegate{}
	battle := NewBattleState(room, time.Now().Add(time.Hour), delegate)

	err := battle.HandleAction(&mockPlayer{id: "s1", userID: 7}, damagePayload(t, 120))
	if err != nil {
		t.Fatalf("HandleAction failed: %v", err)
	}

	if delegate.lastUserID != 7 || delegate.lastDamage != 120 {
		t.Errorf("Delegate received wrong hit: user %d, damage %d", delegate.lastUserID, delegate.lastDamage)
	}
	if room.current != nil {
		t.Error("Room should stay in battle state while the boss lives")
	}
}

func TestBattleState_HandleAction_CompletionSettles(t *testing.T) {
	room := &mockRoom{id: "boss_inst-1", instanceID: "inst-1"}
	delegate := &mockDelegate{completed: true}
	battle := NewBattleState(room, time.Now().Add(time.Hour), delegate)

	if err := battle.HandleAction(&mockPlayer{id: "s1", userID: 7}, damagePayload(t, 9000)); err != nil {
		t.Fatalf("HandleAction failed: %v", err)
	}

	if room.current == nil || room.current.GetID() != "settled" {
		t.Error("A completing hit should settle the room")
	}
}

func TestBattleState_HandleAction_InvalidDamage(t *testing.T) {
	room := &mockRoom{id: "boss_inst-1", instanceID: "inst-1"}
	battle := NewBattleState(room, time.Now().Add(time.Hour), &mockDelegate{})

	if err := battle.HandleAction(&mockPlayer{id: "s1", userID: 7}, damagePayload(t, 0)); !errors.Is(err, ErrInvalidDamage) {
		t.Errorf("Expected ErrInvalidDamage, got %v", err)
	}
}

func TestBattleState_HandleAction_DelegateError(t *testing.T) {
	room := &mockRoom{id: "boss_inst-1", instanceID: "inst-1"}
	wantErr := errors.New("storage down")
	battle := NewBattleState(room, time.Now().Add(time.Hour), &mockDelegate{err: wantErr})

	if err := battle.HandleAction(&mockPlayer{id: "s1", userID: 7}, damagePayload(t, 50)); !errors.Is(err, wantErr) {
		t.Errorf("Expected the delegate error, got %v", err)
	}
	if room.current != nil {
		t.Error("Room should not settle on a delegate error")
	}
}

func TestBattleState_OnUpdate_Deadline(t *testing.T) {
	room := &mockRoom{id: "boss_inst-1", instanceID: "inst-1"}
	deadline := time.Now().Add(time.Hour)
	battle := NewBattleState(room, deadline, &mockDelegate{})

	// Before the deadline nothing happens.
	battle.OnUpdate()
	if room.current != nil || len(room.broadcasts) != 0 {
		t.Fatal("OnUpdate should be a no-op before the deadline")
	}

	battle.now = func() time.Time { return deadline.Add(time.Second) }
	battle.OnUpdate()

	if len(room.broadcasts) != 1 || room.broadcasts[0] != network.MsgTypeBossInstanceExpired {
		t.Errorf("Expected an expiry broadcast, got %v", room.broadcasts)
	}
	if room.current == nil || room.current.GetID() != "settled" {
		t.Error("The room should settle at the deadline")
	}
}

func TestSettledState_RejectsActions(t *testing.T) {
	room := &mockRoom{id: "boss_inst-1", instanceID: "inst-1"}
	settled := NewSettledState(room)

	if err := settled.HandleAction(&mockPlayer{id: "s1", userID: 7}, damagePayload(t, 100)); !errors.Is(err, ErrBattleOver) {
		t.Errorf("Expected ErrBattleOver, got %v", err)
	}
}
