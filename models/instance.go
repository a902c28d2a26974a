// models/instance.go
package models

import (
	"time"
)

// Invitation statuses for private instances.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusDeclined = "declined"
)

// BossInstance 一次对模板的挑战，归属于唯一的owner
type BossInstance struct {
	ID                 string        `json:"id"`
	TemplateID         string        `json:"template_id"`
	OwnerID            int64         `json:"owner_id"`
	CurrentHP          int64         `json:"current_hp"`
	MaxHP              int64         `json:"max_hp"`
	Participants       []Participant `json:"participants"`
	IsCompleted        bool          `json:"is_completed"`
	CompletedAt        time.Time     `json:"completed_at,omitempty"`
	ExpiresAt          time.Time     `json:"expires_at"`
	BattleDuration     time.Duration `json:"battle_duration"`
	RewardsDistributed bool          `json:"rewards_distributed"`
	IsPrivate          bool          `json:"is_private"`
	InvitedPlayers     []Invitation  `json:"invited_players,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Participant 参战者，按加入顺序排列，userId唯一
type Participant struct {
	UserID      int64     `json:"user_id"`
	DamageDealt int64     `json:"damage_dealt"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Invitation 私有实例的邀请记录
type Invitation struct {
	UserID    int64     `json:"user_id"`
	InvitedAt time.Time `json:"invited_at"`
	Status    string    `json:"status"`
}

// IsAvailable reports whether the instance can still take damage.
func (b *BossInstance) IsAvailable(now time.Time) bool {
	return b.CurrentHP > 0 && !b.IsCompleted && now.Before(b.ExpiresAt)
}

// IsExpired reports whether the instance deadline has passed.
func (b *BossInstance) IsExpired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// Participant returns the entry for userID, or nil.
func (b *BossInstance) Participant(userID int64) *Participant {
	for i := range b.Participants {
		if b.Participants[i].UserID == userID {
			return &b.Participants[i]
		}
	}
	return nil
}

// TakeDamage applies damage from userID, inserting a participant entry on
// first hit. HP is clamped at zero; the hit that reaches zero marks the
// instance completed and freezes the battle duration. Returns false when
// the instance cannot take damage.
func (b *BossInstance) TakeDamage(damage int64, userID int64, now time.Time) bool {
	if !b.IsAvailable(now) {
		return false
	}

	b.CurrentHP -= damage
	if b.CurrentHP < 0 {
		b.CurrentHP = 0
	}

	if p := b.Participant(userID); p != nil {
		p.DamageDealt += damage
	} else {
		b.Participants = append(b.Participants, Participant{
			UserID:      userID,
			DamageDealt: damage,
			JoinedAt:    now,
		})
	}

	if b.CurrentHP == 0 {
		b.IsCompleted = true
		b.CompletedAt = now
		b.BattleDuration = now.Sub(b.CreatedAt)
	}

	return true
}

// AddParticipant registers userID without damage. Returns false when the
// user is already a participant.
func (b *BossInstance) AddParticipant(userID int64, now time.Time) bool {
	if b.Participant(userID) != nil {
		return false
	}
	b.Participants = append(b.Participants, Participant{
		UserID:   userID,
		JoinedAt: now,
	})
	return true
}

// IsInvited reports whether userID has an invitation, regardless of status.
func (b *BossInstance) IsInvited(userID int64) bool {
	for i := range b.InvitedPlayers {
		if b.InvitedPlayers[i].UserID == userID {
			return true
		}
	}
	return false
}

// InvitePlayer records a pending invitation. Returns false on duplicates.
func (b *BossInstance) InvitePlayer(userID int64, now time.Time) bool {
	if b.IsInvited(userID) {
		return false
	}
	b.InvitedPlayers = append(b.InvitedPlayers, Invitation{
		UserID:    userID,
		InvitedAt: now,
		Status:    InviteStatusPending,
	})
	return true
}

// HasAccess implements the visibility rule: the owner always sees the
// instance, everyone sees public instances, and private instances are
// visible to invited users and participants.
func (b *BossInstance) HasAccess(userID int64) bool {
	if b.OwnerID == userID {
		return true
	}
	if !b.IsPrivate {
		return true
	}
	if b.Participant(userID) != nil {
		return true
	}
	return b.IsInvited(userID)
}
