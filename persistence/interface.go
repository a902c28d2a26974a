// persistence/interface.go
package persistence

import (
	"fmt"
	"time"

	"github.com/tyuryaga/gameserver/models"
)

// 错误定义
var (
	ErrRecordNotFound      = fmt.Errorf("record not found")
	ErrInstanceUnavailable = fmt.Errorf("instance unavailable")
)

// DamageOutcome is the result of one atomic damage application.
// JustCompleted is true for exactly one writer: the one whose hit drove
// the instance HP to zero.
type DamageOutcome struct {
	Instance      *models.BossInstance
	JustCompleted bool
}

// Database 数据库接口
type Database interface {
	// Boss templates
	CreateTemplate(t *models.BossTemplate) error
	GetTemplate(id string) (*models.BossTemplate, error)
	ListActiveTemplates() ([]*models.BossTemplate, error)
	RecordAttempt(templateID string) error
	RecordKill(templateID string, duration time.Duration, killerID int64) error

	// Boss instances
	CreateInstance(inst *models.BossInstance) error
	GetInstance(id string) (*models.BossInstance, error)
	SaveInstance(inst *models.BossInstance) error
	DeleteInstance(id string) error
	FindActiveByOwner(ownerID int64, now time.Time) (*models.BossInstance, error)
	FindActiveByParticipant(userID int64, now time.Time) (*models.BossInstance, error)
	ListAvailableInstances(userID int64, friendIDs []int64, now time.Time, limit int) (public, friendsPrivate []*models.BossInstance, err error)
	FindExpiredInstances(now time.Time) ([]*models.BossInstance, error)

	// ApplyDamage performs the read-modify-write of one hit atomically per
	// instance so concurrent attackers never lose a decrement.
	ApplyDamage(instanceID string, userID int64, damage int64, now time.Time) (*DamageOutcome, error)

	// ClaimRewards atomically flips the rewardsDistributed latch. Returns
	// true only for the caller that won the claim.
	ClaimRewards(instanceID string) (bool, error)

	// Users (combat-relevant projection)
	GetUser(id int64) (*models.User, error)
	SaveUser(u *models.User) error
	SetActiveInstance(userID int64, instanceID string) error
	SetOnline(userID int64, online bool, at time.Time) error

	// Collaborator projections read by the combat core
	AreFriends(a, b int64) (bool, error)
	FriendIDs(userID int64) ([]int64, error)
	GetEquippedItems(userID int64) ([]models.EquippedItem, error)

	Close() error
}
