// models/models.go
package models

import (
	"time"
)

// BossTemplate 模板：可反复开打的Boss目录项
type BossTemplate struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	MaxHP            int64             `json:"max_hp"`
	Level            int               `json:"level"`
	RequiredLevel    int               `json:"required_level"`
	Rewards          BossRewards       `json:"rewards"`
	InstanceDuration time.Duration     `json:"instance_duration"`
	Stats            BossTemplateStats `json:"stats"`
	IsActive         bool              `json:"is_active"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// BossRewards 奖励配置
type BossRewards struct {
	Money int64      `json:"money"`
	Exp   int64      `json:"exp"`
	Items []ItemDrop `json:"items,omitempty"`
}

// ItemDrop 掉落表条目
type ItemDrop struct {
	ItemID   string  `json:"item_id"`
	DropRate float64 `json:"drop_rate"`
}

// BossTemplateStats 全局统计，仅由奖励结算更新
type BossTemplateStats struct {
	TotalKills      int64         `json:"total_kills"`
	TotalAttempts   int64         `json:"total_attempts"`
	AverageKillTime time.Duration `json:"average_kill_time"`
	FastestKillTime time.Duration `json:"fastest_kill_time"`
	FastestKillBy   int64         `json:"fastest_kill_by,omitempty"`
}

// RecordKill folds one completed run into the running aggregates.
func (s *BossTemplateStats) RecordKill(duration time.Duration, killerID int64) {
	s.TotalKills++
	// Running mean over all kills.
	s.AverageKillTime += (duration - s.AverageKillTime) / time.Duration(s.TotalKills)
	if s.FastestKillTime == 0 || duration < s.FastestKillTime {
		s.FastestKillTime = duration
		s.FastestKillBy = killerID
	}
}

// User 玩家（战斗相关投影）
type User struct {
	ID                   int64                     `json:"id"`
	Nickname             string                    `json:"nickname"`
	Level                int                       `json:"level"`
	Exp                  int64                     `json:"exp"`
	Money                int64                     `json:"money"`
	DamageMultiplier     float64                   `json:"damage_multiplier"`
	CritDamageMultiplier float64                   `json:"crit_damage_multiplier"`
	CritChance           float64                   `json:"crit_chance"` // percent, 0..100
	BossStats            map[string]*UserBossStats `json:"boss_stats"`
	ActiveBossInstance   string                    `json:"active_boss_instance,omitempty"`
	Online               bool                      `json:"online"`
	LastSeen             time.Time                 `json:"last_seen"`
}

// UserBossStats 按模板维度的个人统计
type UserBossStats struct {
	Kills        int64         `json:"kills"`
	Attempts     int64         `json:"attempts"`
	BestTime     time.Duration `json:"best_time"`
	LastKilledAt time.Time     `json:"last_killed_at,omitempty"`
}

// TemplateStats returns the per-template record, creating it on first use.
func (u *User) TemplateStats(templateID string) *UserBossStats {
	if u.BossStats == nil {
		u.BossStats = make(map[string]*UserBossStats)
	}
	stats, ok := u.BossStats[templateID]
	if !ok {
		stats = &UserBossStats{}
		u.BossStats[templateID] = stats
	}
	return stats
}

// GainExp adds experience and applies level-ups while the threshold
// (level * 1000) is reached. Returns the number of levels gained.
func (u *User) GainExp(amount int64) int {
	u.Exp += amount
	gained := 0
	for u.Exp >= int64(u.Level)*1000 {
		u.Exp -= int64(u.Level) * 1000
		u.Level++
		gained++
	}
	return gained
}

// Item effect types that influence combat.
const (
	EffectDamageBoost = "damage_boost"
	EffectLuckBoost   = "luck_boost"
)

// SlotWeapon is the slot whose flat damage can be overridden by a
// permanent damage_boost effect.
const SlotWeapon = "weapon"

// EquippedItem 装备投影（战斗只读输入）
type EquippedItem struct {
	Slot       string       `json:"slot"`
	FlatDamage int64        `json:"flat_damage"`
	Effects    []ItemEffect `json:"effects,omitempty"`
}

// ItemEffect Duration为0表示永久效果
type ItemEffect struct {
	Type     string        `json:"type"`
	Value    float64       `json:"value"`
	Duration time.Duration `json:"duration"`
}
