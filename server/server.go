package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/rpc"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tyuryaga/gameserver/auth"
	"github.com/tyuryaga/gameserver/broadcast"
	"github.com/tyuryaga/gameserver/logger"
	"github.com/tyuryaga/gameserver/models"
	"github.com/tyuryaga/gameserver/monitor"
	"github.com/tyuryaga/gameserver/network"
	"github.com/tyuryaga/gameserver/persistence"
	"github.com/tyuryaga/gameserver/room"
	gameserver_rpc "github.com/tyuryaga/gameserver/rpc"
	"github.com/tyuryaga/gameserver/services"
	"github.com/tyuryaga/gameserver/session"
)

type GameServer struct {
	addr            string
	upgrader        websocket.Upgrader
	roomManager     *room.Manager
	sessionManager  *session.Manager
	db              persistence.Database
	authenticator   auth.Authenticator
	instanceService *services.InstanceService
	combatService   *services.CombatService
	rewardService   *services.RewardService
	broadcaster     broadcast.Broadcaster
	rpcServer       *gameserver_rpc.Server
	monitor         *monitor.Monitor
	shutdownChan    chan struct{}
}

func NewGameServer(addr, rpcAddr string, db persistence.Database, authenticator auth.Authenticator) *GameServer {
	s := &GameServer{
		addr:           addr,
		roomManager:    room.NewRoomManager(),
		sessionManager: session.NewManager(),
		db:             db,
		authenticator:  authenticator,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}

	// 初始化广播器
	s.broadcaster = broadcast.NewRoomBroadcaster(s.roomManager, s.sessionManager)

	s.instanceService = services.NewInstanceService(db, s.broadcaster)
	s.combatService = services.NewCombatService(db)
	s.rewardService = services.NewRewardService(db, s.broadcaster)

	// 初始化RPC服务器
	rpcServer, err := gameserver_rpc.NewServer(rpcAddr)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	s.rpcServer = rpcServer

	// 注册RPC服务
	bossService := gameserver_rpc.NewBossService(services.NewTemplateService(db))
	rpc.Register(bossService)

	return s
}

// SetMonitor wires the optional metrics collector.
func (s *GameServer) SetMonitor(m *monitor.Monitor) {
	s.monitor = m
}

// RoomManager exposes the room manager for the expiry sweeper.
func (s *GameServer) RoomManager() *room.Manager {
	return s.roomManager
}

// InstanceService exposes the lifecycle service for the REST layer.
func (s *GameServer) InstanceService() *services.InstanceService {
	return s.instanceService
}

func (s *GameServer) Start() error {
	go s.rpcServer.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.registerRoutes(mux)

	logger.Log.Infof("Game server listening on %s", s.addr)
	return http.ListenAndServe(s.addr, mux)
}

func (s *GameServer) Shutdown() {
	close(s.shutdownChan)
	s.rpcServer.Stop()
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn, identity)
}

func (s *GameServer) authenticate(r *http.Request) (*auth.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	return s.authenticator.Authenticate(token)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func (s *GameServer) handleConnection(conn *websocket.Conn, identity *auth.Identity) {
	wsConn := network.NewWSConnection(conn)
	sess := session.NewSession(uuid.New().String(), wsConn)
	sess.UserID = identity.UserID
	sess.Nickname = identity.Nickname
	sess.Level = identity.Level
	s.sessionManager.Add(sess)

	if err := s.db.SetOnline(identity.UserID, true, time.Now()); err != nil {
		logger.Log.Warnf("Failed to mark user %d online: %v", identity.UserID, err)
	}
	if s.monitor != nil {
		s.monitor.IncOnlinePlayers()
	}

	logger.Log.Infof("User %d connected from %s, session ID: %s",
		identity.UserID, wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("User %d disconnected, session ID: %s", identity.UserID, sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		if sess.RoomID != "" {
			if r, exists := s.roomManager.GetRoom(sess.RoomID); exists {
				r.RemovePlayer(sess.GetID())
				if r.PlayerCount() == 0 && r.GetStatus() == room.StatusSettled {
					s.roomManager.RemoveRoom(r.ID)
				}
			}
		}
		if err := s.db.SetOnline(identity.UserID, false, time.Now()); err != nil {
			logger.Log.Warnf("Failed to mark user %d offline: %v", identity.UserID, err)
		}
		if s.monitor != nil {
			s.monitor.DecOnlinePlayers()
		}
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		sess.LastActive = time.Now()
	case network.MsgTypeJoinBossInstance:
		s.handleJoinInstance(sess, packet)
	case network.MsgTypeDealDamage:
		s.handleDealDamage(sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
}

func (s *GameServer) sendError(sess *session.Session, err error) {
	data, _ := json.Marshal(network.ErrorPayload{Message: err.Error()})
	if sendErr := sess.Send(network.MsgTypeError, data); sendErr != nil {
		logger.Log.Warnf("Failed to send error to session %s: %v", sess.GetID(), sendErr)
	}
}

// handleJoinInstance attaches the session to the live room of an instance
// the user already participates in (or owns, or may watch).
func (s *GameServer) handleJoinInstance(sess *session.Session, packet *network.Packet) {
	var req network.JoinBossInstanceRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, fmt.Errorf("malformed join request"))
		return
	}

	inst, err := s.instanceService.Get(sess.UserID, req.InstanceID)
	if err != nil {
		s.sendError(sess, err)
		return
	}

	r := s.roomManager.GetOrCreate(inst.ID, inst.ExpiresAt, s, s.broadcaster)
	if !r.AddPlayer(sess) {
		// 已在房间内，重新下发快照即可
	}
	if s.monitor != nil {
		s.monitor.SetActiveRooms(s.roomManager.Count())
	}

	s.sendInstanceState(sess, inst)

	// 只广播真正的参战者；受邀旁观者静默进房，拥有者也不重复广播
	if inst.OwnerID != sess.UserID && inst.Participant(sess.UserID) != nil {
		data, _ := json.Marshal(network.PlayerJoinedPayload{
			InstanceID: inst.ID,
			UserID:     sess.UserID,
			Nickname:   sess.Nickname,
			Level:      sess.Level,
		})
		for _, other := range r.GetSessions() {
			if other.GetID() == sess.GetID() {
				continue
			}
			if err := other.Send(network.MsgTypePlayerJoined, data); err != nil {
				continue
			}
		}
	}

	logger.Log.Infof("User %d entered boss room %s", sess.UserID, r.ID)
}

func (s *GameServer) sendInstanceState(sess *session.Session, inst *models.BossInstance) {
	var bossName string
	var bossLevel int
	if template, err := s.db.GetTemplate(inst.TemplateID); err == nil {
		bossName = template.Name
		bossLevel = template.Level
	}

	data, _ := json.Marshal(network.BossInstanceStatePayload{
		InstanceID:   inst.ID,
		TemplateID:   inst.TemplateID,
		BossName:     bossName,
		BossLevel:    bossLevel,
		CurrentHP:    inst.CurrentHP,
		MaxHP:        inst.MaxHP,
		OwnerID:      inst.OwnerID,
		IsPrivate:    inst.IsPrivate,
		ExpiresAt:    inst.ExpiresAt,
		Participants: s.participantInfos(inst.Participants),
	})
	if err := sess.Send(network.MsgTypeBossInstanceState, data); err != nil {
		logger.Log.Warnf("Failed to send instance state to session %s: %v", sess.GetID(), err)
	}
}

func (s *GameServer) participantInfos(participants []models.Participant) []network.ParticipantInfo {
	infos := make([]network.ParticipantInfo, 0, len(participants))
	for _, p := range participants {
		info := network.ParticipantInfo{
			UserID:      p.UserID,
			DamageDealt: p.DamageDealt,
		}
		if user, err := s.db.GetUser(p.UserID); err == nil {
			info.Nickname = user.Nickname
		}
		infos = append(infos, info)
	}
	return infos
}

// handleDealDamage routes the attack through the room's state machine so a
// settled room rejects it.
func (s *GameServer) handleDealDamage(sess *session.Session, packet *network.Packet) {
	if sess.RoomID == "" {
		s.sendError(sess, fmt.Errorf("join a boss instance first"))
		return
	}

	r, exists := s.roomManager.GetRoom(sess.RoomID)
	if !exists {
		logger.Log.Errorf("Room %s not found for session %s", sess.RoomID, sess.GetID())
		s.sendError(sess, fmt.Errorf("battle room no longer exists"))
		return
	}

	currentState := r.StateMachine.GetCurrentState()
	if currentState == nil {
		logger.Log.Errorf("Room %s has a nil state", r.GetID())
		return
	}

	if err := currentState.HandleAction(sess, packet.Data); err != nil {
		s.sendError(sess, err)
	}
}

// AttackBoss implements state.BattleDelegate. It resolves the hit, persists
// it, broadcasts the result, and settles rewards when the hit was lethal.
func (s *GameServer) AttackBoss(userID int64, instanceID string, damage int64) (bool, error) {
	start := time.Now()
	result, err := s.combatService.ApplyDamage(userID, instanceID, damage)
	if err != nil {
		return false, err
	}

	if s.monitor != nil {
		s.monitor.IncDamageEvents()
		s.monitor.ObserveDamageLatency(time.Since(start))
	}

	inst := result.Instance
	dealtBy := network.ParticipantInfo{UserID: userID, DamageDealt: result.Damage}
	if user, userErr := s.db.GetUser(userID); userErr == nil {
		dealtBy.Nickname = user.Nickname
	}

	update, _ := json.Marshal(network.BossInstanceUpdatePayload{
		InstanceID:   inst.ID,
		CurrentHP:    inst.CurrentHP,
		MaxHP:        inst.MaxHP,
		IsCompleted:  inst.IsCompleted,
		DamageDealt:  result.Damage,
		Crit:         result.Crit,
		DealtBy:      dealtBy,
		Participants: s.participantInfos(inst.Participants),
	})
	if err := s.broadcaster.BroadcastToRoom(room.Name(inst.ID), network.MsgTypeBossInstanceUpdate, update); err != nil {
		logger.Log.Warnf("Failed to broadcast update for instance %s: %v", inst.ID, err)
	}

	if result.JustCompleted {
		s.settleDefeat(inst, dealtBy)
	}
	return result.JustCompleted, nil
}

func (s *GameServer) settleDefeat(inst *models.BossInstance, dealtBy network.ParticipantInfo) {
	grants, err := s.rewardService.Distribute(inst.ID)
	if err != nil {
		logger.Log.Errorf("Failed to distribute rewards for instance %s: %v", inst.ID, err)
	}

	var bossName string
	if template, tplErr := s.db.GetTemplate(inst.TemplateID); tplErr == nil {
		bossName = template.Name
	}

	rewards := make([]network.RewardInfo, 0, len(grants))
	for _, g := range grants {
		rewards = append(rewards, network.RewardInfo{
			UserID:       g.UserID,
			Nickname:     g.Nickname,
			Money:        g.Money,
			Exp:          g.Exp,
			LevelsGained: g.LevelsGained,
		})
	}

	defeated, _ := json.Marshal(network.BossInstanceDefeatedPayload{
		InstanceID:     inst.ID,
		BossName:       bossName,
		DealtBy:        dealtBy,
		Participants:   s.participantInfos(inst.Participants),
		Rewards:        rewards,
		BattleDuration: inst.BattleDuration,
	})
	if err := s.broadcaster.BroadcastToRoom(room.Name(inst.ID), network.MsgTypeBossInstanceDefeated, defeated); err != nil {
		logger.Log.Warnf("Failed to broadcast defeat for instance %s: %v", inst.ID, err)
	}

	text := fmt.Sprintf("%s defeated boss %s!", dealtBy.Nickname, bossName)
	if dealtBy.Nickname == "" {
		text = fmt.Sprintf("Boss %s has been defeated!", bossName)
	}
	system, _ := json.Marshal(network.SystemMessagePayload{Text: text})
	if err := s.broadcaster.BroadcastToAll(network.MsgTypeSystemMessage, system); err != nil {
		logger.Log.Warnf("Failed to broadcast system message: %v", err)
	}

	if s.monitor != nil {
		s.monitor.IncBossesDefeated()
	}
	logger.Log.Infof("Boss instance %s defeated, %d participants rewarded", inst.ID, len(rewards))
}
