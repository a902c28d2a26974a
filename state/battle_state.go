package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tyuryaga/gameserver/logger"
	"github.com/tyuryaga/gameserver/network"
)

var (
	// ErrBattleOver is returned for actions against a settled room.
	ErrBattleOver = errors.New("battle already settled")
	// ErrInvalidDamage is returned for non-positive damage input.
	ErrInvalidDamage = errors.New("damage must be positive")
)

// BattleState 战斗进行状态：接收攻击动作，监视实例的时间预算
type BattleState struct {
	RoomStateBase
	Deadline time.Time
	delegate BattleDelegate
	now      func() time.Time
}

// NewBattleState creates the active combat state for a boss room.
func NewBattleState(room RoomContext, deadline time.Time, delegate BattleDelegate) *BattleState {
	return &BattleState{
		RoomStateBase: RoomStateBase{
			ID:   "battle",
			Room: room,
		},
		Deadline: deadline,
		delegate: delegate,
		now:      time.Now,
	}
}

func (s *BattleState) OnEnter() {
	logger.Log.Infof("Boss room %s entered battle state, deadline %v", s.Room.GetID(), s.Deadline)
}

// HandleAction processes a dealDamage request from a player in the room.
func (s *BattleState) HandleAction(player Player, actionData []byte) error {
	var req network.DealDamageRequest
	if err := json.Unmarshal(actionData, &req); err != nil {
		return fmt.Errorf("failed to unmarshal damage request: %w", err)
	}

	if req.Damage <= 0 {
		return ErrInvalidDamage
	}

	completed, err := s.delegate.AttackBoss(player.GetUserID(), s.Room.GetInstanceID(), req.Damage)
	if err != nil {
		return err
	}

	if completed {
		return s.Room.ChangeState(NewSettledState(s.Room))
	}
	return nil
}

// OnUpdate watches the expiry deadline. The storage sweep happens in the
// expiry sweeper; here we only close the live combat loop.
func (s *BattleState) OnUpdate() {
	if s.now().Before(s.Deadline) {
		return
	}

	data, _ := json.Marshal(network.BossInstanceExpiredPayload{
		InstanceID: s.Room.GetInstanceID(),
	})
	if err := s.Room.Broadcast(network.MsgTypeBossInstanceExpired, data); err != nil {
		logger.Log.Warnf("Failed to broadcast expiry for room %s: %v", s.Room.GetID(), err)
	}

	if err := s.Room.ChangeState(NewSettledState(s.Room)); err != nil {
		logger.Log.Errorf("Failed to settle expired room %s: %v", s.Room.GetID(), err)
	}
}

// SettledState 终态：实例已击杀或超时，拒绝后续动作
type SettledState struct {
	RoomStateBase
}

// NewSettledState creates the terminal state for a boss room.
func NewSettledState(room RoomContext) *SettledState {
	return &SettledState{
		RoomStateBase: RoomStateBase{
			ID:   "settled",
			Room: room,
		},
	}
}

func (s *SettledState) OnEnter() {
	logger.Log.Infof("Boss room %s settled", s.Room.GetID())
}

func (s *SettledState) HandleAction(player Player, actionData []byte) error {
	return ErrBattleOver
}
