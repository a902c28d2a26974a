// state/interfaces.go
package state

// Player defines the minimal interface for a connected player that a state
// needs to interact with.
type Player interface {
	GetID() string
	GetUserID() int64
}

// RoomContext defines the interface that a Room must implement to be managed
// by the state machine. This breaks the import cycle between room and state.
type RoomContext interface {
	GetID() string
	GetInstanceID() string
	GetPlayers() map[string]Player
	ChangeState(newState State) error
	Broadcast(msgID uint16, data []byte) error
}

// BattleDelegate applies a hit against the boss instance and runs all
// follow-up work (persistence, reward distribution, broadcasts). It reports
// whether this hit completed the instance.
type BattleDelegate interface {
	AttackBoss(userID int64, instanceID string, damage int64) (completed bool, err error)
}
