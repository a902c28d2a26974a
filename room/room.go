// room/room.go
package room

import (
	"sync"
	"time"

	"github.com/tyuryaga/gameserver/session"
	"github.com/tyuryaga/gameserver/state"
)

// RoomStatus 表示房间的业务状态
type RoomStatus int

const (
	StatusFighting RoomStatus = iota
	StatusSettled
)

// Name returns the room identifier for a boss instance.
func Name(instanceID string) string {
	return "boss_" + instanceID
}

// Room 是一个Boss实例的实时战斗房间
type Room struct {
	ID           string
	InstanceID   string
	Status       RoomStatus
	Players      map[string]*session.Session // sessionID -> session
	StateMachine state.StateMachine
	CreatedAt    time.Time
	broadcaster  Broadcaster
	statusMutex  sync.RWMutex
	playerMutex  sync.RWMutex
	ticker       *time.Ticker
	closeChan    chan bool
	closeOnce    sync.Once
}

// NewRoom creates a combat room for a boss instance. The state machine
// starts in battle state and settles on completion or at the deadline.
func NewRoom(instanceID string, deadline time.Time, delegate state.BattleDelegate, broadcaster Broadcaster) *Room {
	room := &Room{
		ID:          Name(instanceID),
		InstanceID:  instanceID,
		Status:      StatusFighting,
		Players:     make(map[string]*session.Session),
		CreatedAt:   time.Now(),
		closeChan:   make(chan bool),
		broadcaster: broadcaster,
	}

	// 初始化状态机，将房间自身(room)作为上下文传入
	initialState := state.NewBattleState(room, deadline, delegate)
	room.StateMachine = state.NewBaseStateMachine(initialState)

	// 启动房间心跳，驱动超时检测
	room.ticker = time.NewTicker(time.Second)
	go room.loop()

	return room
}

// --- 实现 state.RoomContext 接口 ---

// GetID 返回房间ID
func (r *Room) GetID() string {
	return r.ID
}

// GetInstanceID returns the boss instance this room belongs to.
func (r *Room) GetInstanceID() string {
	return r.InstanceID
}

// GetPlayers 获取房间中的所有玩家，返回的map值为 state.Player 接口
func (r *Room) GetPlayers() map[string]state.Player {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	// 返回副本以避免并发修改
	players := make(map[string]state.Player)
	for k, v := range r.Players {
		players[k] = v // session.Session 实现了 state.Player 接口
	}
	return players
}

// ChangeState 改变房间的状态机状态
func (r *Room) ChangeState(newState state.State) error {
	if err := r.StateMachine.ChangeState(newState); err != nil {
		return err
	}
	if newState.GetID() == "settled" {
		r.SetStatus(StatusSettled)
	}
	return nil
}

// Broadcast sends a message to all players in the room.
func (r *Room) Broadcast(msgID uint16, data []byte) error {
	return r.broadcaster.BroadcastToRoom(r.ID, msgID, data)
}

// --- 房间核心逻辑 ---

// AddPlayer 添加一个玩家到房间
func (r *Room) AddPlayer(s *session.Session) bool {
	r.playerMutex.Lock()
	defer r.playerMutex.Unlock()

	if _, exists := r.Players[s.ID]; exists {
		return false
	}

	r.Players[s.ID] = s
	s.RoomID = r.ID
	return true
}

// RemovePlayer 从房间移除一个玩家
func (r *Room) RemovePlayer(sessionID string) {
	r.playerMutex.Lock()
	defer r.playerMutex.Unlock()

	if player, exists := r.Players[sessionID]; exists {
		player.RoomID = ""
		delete(r.Players, sessionID)
	}
}

// GetPlayer 获取单个玩家
func (r *Room) GetPlayer(sessionID string) (*session.Session, bool) {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	player, exists := r.Players[sessionID]
	return player, exists
}

// GetSessions returns a slice of all sessions in the room (thread-safe).
func (r *Room) GetSessions() []*session.Session {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	sessions := make([]*session.Session, 0, len(r.Players))
	for _, s := range r.Players {
		sessions = append(sessions, s)
	}
	return sessions
}

// PlayerCount returns the number of sessions in the room.
func (r *Room) PlayerCount() int {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()
	return len(r.Players)
}

// SetStatus 设置房间的业务状态
func (r *Room) SetStatus(status RoomStatus) {
	r.statusMutex.Lock()
	defer r.statusMutex.Unlock()
	r.Status = status
}

// GetStatus 获取房间的业务状态
func (r *Room) GetStatus() RoomStatus {
	r.statusMutex.RLock()
	defer r.statusMutex.RUnlock()
	return r.Status
}

// loop 是房间的主循环，定时驱动状态更新
func (r *Room) loop() {
	for {
		select {
		case <-r.ticker.C:
			r.Update()
		case <-r.closeChan:
			r.ticker.Stop()
			return
		}
	}
}

// Update 由主循环调用，驱动状态机更新
func (r *Room) Update() {
	if r.StateMachine != nil {
		currentState := r.StateMachine.GetCurrentState()
		if currentState != nil {
			currentState.OnUpdate()
		}
	}
}

// Close 关闭房间，停止主循环
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.closeChan)
	})
}

// --- 房间管理器 ---

// Manager 管理所有Boss战房间
type Manager struct {
	rooms map[string]*Room
	mutex sync.RWMutex
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// GetOrCreate returns the room for instanceID, creating it on first join.
func (m *Manager) GetOrCreate(instanceID string, deadline time.Time, delegate state.BattleDelegate, broadcaster Broadcaster) *Room {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if room, exists := m.rooms[Name(instanceID)]; exists {
		return room
	}

	room := NewRoom(instanceID, deadline, delegate, broadcaster)
	m.rooms[room.ID] = room
	return room
}

// RemoveRoom 从管理器中移除并关闭一个房间
func (m *Manager) RemoveRoom(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if room, exists := m.rooms[id]; exists {
		room.Close()
		delete(m.rooms, id)
	}
}

// RemoveByInstance closes and removes the room of a boss instance, if any.
func (m *Manager) RemoveByInstance(instanceID string) {
	m.RemoveRoom(Name(instanceID))
}

// GetRoom 从管理器中获取一个房间
func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

// GetByInstance returns the room of a boss instance.
func (m *Manager) GetByInstance(instanceID string) (*Room, bool) {
	return m.GetRoom(Name(instanceID))
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}
