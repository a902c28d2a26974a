// network/protocol.go
package network

import "time"

// Message IDs. 1xx inbound requests, 3xx outbound events.
const (
	MsgTypeHeartbeat = 1
	MsgTypeError     = 2

	MsgTypeJoinBossInstance = 101
	MsgTypeDealDamage       = 102

	MsgTypeBossInstanceState    = 301
	MsgTypePlayerJoined         = 302
	MsgTypeBossInstanceUpdate   = 303
	MsgTypeBossInstanceDefeated = 304
	MsgTypeBossRewards          = 305
	MsgTypeBossInvitation       = 306
	MsgTypeSystemMessage        = 307
	MsgTypeBossInstanceExpired  = 308
)

// ErrorPayload 出错事件
type ErrorPayload struct {
	Message string `json:"message"`
}

// JoinBossInstanceRequest 入场请求
type JoinBossInstanceRequest struct {
	InstanceID string `json:"instance_id"`
}

// DealDamageRequest 攻击请求
type DealDamageRequest struct {
	InstanceID string `json:"instance_id"`
	Damage     int64  `json:"damage"`
}

// ParticipantInfo mirrors one participant entry in outbound events.
type ParticipantInfo struct {
	UserID      int64  `json:"user_id"`
	Nickname    string `json:"nickname,omitempty"`
	DamageDealt int64  `json:"damage_dealt"`
}

// BossInstanceStatePayload is the full snapshot sent to a joining session.
type BossInstanceStatePayload struct {
	InstanceID   string            `json:"instance_id"`
	TemplateID   string            `json:"template_id"`
	BossName     string            `json:"boss_name"`
	BossLevel    int               `json:"boss_level"`
	CurrentHP    int64             `json:"current_hp"`
	MaxHP        int64             `json:"max_hp"`
	OwnerID      int64             `json:"owner_id"`
	IsPrivate    bool              `json:"is_private"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Participants []ParticipantInfo `json:"participants"`
}

// PlayerJoinedPayload 有人进入实例房间
type PlayerJoinedPayload struct {
	InstanceID string `json:"instance_id"`
	UserID     int64  `json:"user_id"`
	Nickname   string `json:"nickname"`
	Level      int    `json:"level"`
}

// BossInstanceUpdatePayload 每次命中后的房间广播
type BossInstanceUpdatePayload struct {
	InstanceID   string            `json:"instance_id"`
	CurrentHP    int64             `json:"current_hp"`
	MaxHP        int64             `json:"max_hp"`
	IsCompleted  bool              `json:"is_completed"`
	DamageDealt  int64             `json:"damage_dealt"`
	Crit         bool              `json:"crit"`
	DealtBy      ParticipantInfo   `json:"dealt_by"`
	Participants []ParticipantInfo `json:"participants"`
}

// RewardInfo is one user's share in a defeat announcement.
type RewardInfo struct {
	UserID       int64  `json:"user_id"`
	Nickname     string `json:"nickname,omitempty"`
	Money        int64  `json:"money"`
	Exp          int64  `json:"exp"`
	LevelsGained int    `json:"levels_gained"`
}

// BossInstanceDefeatedPayload 实例击杀广播
type BossInstanceDefeatedPayload struct {
	InstanceID     string            `json:"instance_id"`
	BossName       string            `json:"boss_name"`
	DealtBy        ParticipantInfo   `json:"dealt_by"`
	Participants   []ParticipantInfo `json:"participants"`
	Rewards        []RewardInfo      `json:"rewards"`
	BattleDuration time.Duration     `json:"battle_duration"`
}

// BossRewardsPayload is delivered to each rewarded user individually.
type BossRewardsPayload struct {
	BossName     string `json:"boss_name"`
	Money        int64  `json:"money"`
	Exp          int64  `json:"exp"`
	LevelsGained int    `json:"levels_gained"`
}

// BossInvitationPayload 私有实例邀请通知
type BossInvitationPayload struct {
	InstanceID   string    `json:"instance_id"`
	FromUserID   int64     `json:"from_user_id"`
	FromNickname string    `json:"from_nickname"`
	BossName     string    `json:"boss_name"`
	BossLevel    int       `json:"boss_level"`
	CurrentHP    int64     `json:"current_hp"`
	MaxHP        int64     `json:"max_hp"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SystemMessagePayload 全局系统消息
type SystemMessagePayload struct {
	Text string `json:"text"`
}

// BossInstanceExpiredPayload 超时未击杀
type BossInstanceExpiredPayload struct {
	InstanceID string `json:"instance_id"`
}
