// persistence/gorm_postgresql.go
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/tyuryaga/gameserver/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

// --- 定义GORM模型 ---

type templateRow struct {
	ID                 uint   `gorm:"primaryKey"`
	TemplateID         string `gorm:"uniqueIndex;not null"`
	Name               string `gorm:"not null"`
	Description        string
	MaxHP              int64 `gorm:"not null"`
	Level              int   `gorm:"index"`
	RequiredLevel      int   `gorm:"index"`
	RewardMoney        int64
	RewardExp          int64
	RewardItems        []models.ItemDrop `gorm:"type:jsonb;serializer:json"`
	InstanceDurationMs int64
	TotalKills         int64
	TotalAttempts      int64
	AverageKillTimeMs  int64
	FastestKillTimeMs  int64
	FastestKillBy      int64
	IsActive           bool `gorm:"index;default:true"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (templateRow) TableName() string { return "boss_templates" }

type instanceRow struct {
	ID                 uint   `gorm:"primaryKey"`
	InstanceID         string `gorm:"uniqueIndex;not null"`
	TemplateID         string `gorm:"index;not null"`
	OwnerID            int64  `gorm:"index;not null"`
	CurrentHP          int64
	MaxHP              int64
	Participants       []models.Participant `gorm:"type:jsonb;serializer:json"`
	IsCompleted        bool                 `gorm:"index"`
	CompletedAt        *time.Time
	ExpiresAt          time.Time `gorm:"index"`
	BattleDurationMs   int64
	RewardsDistributed bool
	IsPrivate          bool
	InvitedPlayers     []models.Invitation `gorm:"type:jsonb;serializer:json"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (instanceRow) TableName() string { return "boss_instances" }

type userRow struct {
	ID                   uint  `gorm:"primaryKey"`
	UserID               int64 `gorm:"uniqueIndex;not null"`
	Nickname             string
	Level                int   `gorm:"default:1"`
	Exp                  int64 `gorm:"default:0"`
	Money                int64 `gorm:"default:0"`
	DamageMultiplier     float64
	CritDamageMultiplier float64
	CritChance           float64
	BossStats            map[string]*models.UserBossStats `gorm:"type:jsonb;serializer:json"`
	ActiveBossInstance   string
	Online               bool `gorm:"index"`
	LastSeen             time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (userRow) TableName() string { return "users" }

type friendshipRow struct {
	ID       uint  `gorm:"primaryKey"`
	UserID   int64 `gorm:"index;not null"`
	FriendID int64 `gorm:"index;not null"`
	Status   string
}

func (friendshipRow) TableName() string { return "friendships" }

type inventoryRow struct {
	ID         uint  `gorm:"primaryKey"`
	UserID     int64 `gorm:"index;not null"`
	Slot       string
	Equipped   bool `gorm:"index"`
	FlatDamage int64
	Effects    []models.ItemEffect `gorm:"type:jsonb;serializer:json"`
}

func (inventoryRow) TableName() string { return "inventory_items" }

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&templateRow{},
		&instanceRow{},
		&userRow{},
		&friendshipRow{},
		&inventoryRow{},
	)
}

// --- 模型转换 ---

func (r *templateRow) toModel() *models.BossTemplate {
	return &models.BossTemplate{
		ID:            r.TemplateID,
		Name:          r.Name,
		Description:   r.Description,
		MaxHP:         r.MaxHP,
		Level:         r.Level,
		RequiredLevel: r.RequiredLevel,
		Rewards: models.BossRewards{
			Money: r.RewardMoney,
			Exp:   r.RewardExp,
			Items: r.RewardItems,
		},
		InstanceDuration: time.Duration(r.InstanceDurationMs) * time.Millisecond,
		Stats: models.BossTemplateStats{
			TotalKills:      r.TotalKills,
			TotalAttempts:   r.TotalAttempts,
			AverageKillTime: time.Duration(r.AverageKillTimeMs) * time.Millisecond,
			FastestKillTime: time.Duration(r.FastestKillTimeMs) * time.Millisecond,
			FastestKillBy:   r.FastestKillBy,
		},
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r *templateRow) fromModel(t *models.BossTemplate) {
	r.TemplateID = t.ID
	r.Name = t.Name
	r.Description = t.Description
	r.MaxHP = t.MaxHP
	r.Level = t.Level
	r.RequiredLevel = t.RequiredLevel
	r.RewardMoney = t.Rewards.Money
	r.RewardExp = t.Rewards.Exp
	r.RewardItems = t.Rewards.Items
	r.InstanceDurationMs = t.InstanceDuration.Milliseconds()
	r.TotalKills = t.Stats.TotalKills
	r.TotalAttempts = t.Stats.TotalAttempts
	r.AverageKillTimeMs = t.Stats.AverageKillTime.Milliseconds()
	r.FastestKillTimeMs = t.Stats.FastestKillTime.Milliseconds()
	r.FastestKillBy = t.Stats.FastestKillBy
	r.IsActive = t.IsActive
}

func (r *instanceRow) toModel() *models.BossInstance {
	inst := &models.BossInstance{
		ID:                 r.InstanceID,
		TemplateID:         r.TemplateID,
		OwnerID:            r.OwnerID,
		CurrentHP:          r.CurrentHP,
		MaxHP:              r.MaxHP,
		Participants:       r.Participants,
		IsCompleted:        r.IsCompleted,
		ExpiresAt:          r.ExpiresAt,
		BattleDuration:     time.Duration(r.BattleDurationMs) * time.Millisecond,
		RewardsDistributed: r.RewardsDistributed,
		IsPrivate:          r.IsPrivate,
		InvitedPlayers:     r.InvitedPlayers,
		CreatedAt:          r.CreatedAt,
	}
	if r.CompletedAt != nil {
		inst.CompletedAt = *r.CompletedAt
	}
	return inst
}

func (r *instanceRow) fromModel(inst *models.BossInstance) {
	r.InstanceID = inst.ID
	r.TemplateID = inst.TemplateID
	r.OwnerID = inst.OwnerID
	r.CurrentHP = inst.CurrentHP
	r.MaxHP = inst.MaxHP
	r.Participants = inst.Participants
	r.IsCompleted = inst.IsCompleted
	r.ExpiresAt = inst.ExpiresAt
	r.BattleDurationMs = inst.BattleDuration.Milliseconds()
	r.RewardsDistributed = inst.RewardsDistributed
	r.IsPrivate = inst.IsPrivate
	r.InvitedPlayers = inst.InvitedPlayers
	if !inst.CompletedAt.IsZero() {
		completed := inst.CompletedAt
		r.CompletedAt = &completed
	}
}

func (r *userRow) toModel() *models.User {
	return &models.User{
		ID:                   r.UserID,
		Nickname:             r.Nickname,
		Level:                r.Level,
		Exp:                  r.Exp,
		Money:                r.Money,
		DamageMultiplier:     r.DamageMultiplier,
		CritDamageMultiplier: r.CritDamageMultiplier,
		CritChance:           r.CritChance,
		BossStats:            r.BossStats,
		ActiveBossInstance:   r.ActiveBossInstance,
		Online:               r.Online,
		LastSeen:             r.LastSeen,
	}
}

func (r *userRow) fromModel(u *models.User) {
	r.UserID = u.ID
	r.Nickname = u.Nickname
	r.Level = u.Level
	r.Exp = u.Exp
	r.Money = u.Money
	r.DamageMultiplier = u.DamageMultiplier
	r.CritDamageMultiplier = u.CritDamageMultiplier
	r.CritChance = u.CritChance
	r.BossStats = u.BossStats
	r.ActiveBossInstance = u.ActiveBossInstance
	r.Online = u.Online
	r.LastSeen = u.LastSeen
}

// --- Templates ---

func (p *GormPostgreSQL) CreateTemplate(t *models.BossTemplate) error {
	var row templateRow
	row.fromModel(t)
	return p.db.Create(&row).Error
}

func (p *GormPostgreSQL) GetTemplate(id string) (*models.BossTemplate, error) {
	var row templateRow
	if err := p.db.Where("template_id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (p *GormPostgreSQL) ListActiveTemplates() ([]*models.BossTemplate, error) {
	var rows []templateRow
	if err := p.db.Where("is_active = ?", true).Order("level asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]*models.BossTemplate, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toModel())
	}
	return result, nil
}

func (p *GormPostgreSQL) RecordAttempt(templateID string) error {
	res := p.db.Model(&templateRow{}).
		Where("template_id = ?", templateID).
		Update("total_attempts", gorm.Expr("total_attempts + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *GormPostgreSQL) RecordKill(templateID string, duration time.Duration, killerID int64) error {
	// 行锁内更新聚合，保证均值与最快纪录一致
	return p.db.Transaction(func(tx *gorm.DB) error {
		var row templateRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("template_id = ?", templateID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			return err
		}
		stats := row.toModel().Stats
		stats.RecordKill(duration, killerID)
		return tx.Model(&row).Updates(map[string]interface{}{
			"total_kills":          stats.TotalKills,
			"average_kill_time_ms": stats.AverageKillTime.Milliseconds(),
			"fastest_kill_time_ms": stats.FastestKillTime.Milliseconds(),
			"fastest_kill_by":      stats.FastestKillBy,
		}).Error
	})
}

// --- Instances ---

func (p *GormPostgreSQL) CreateInstance(inst *models.BossInstance) error {
	var row instanceRow
	row.fromModel(inst)
	row.CreatedAt = inst.CreatedAt
	return p.db.Create(&row).Error
}

func (p *GormPostgreSQL) GetInstance(id string) (*models.BossInstance, error) {
	var row instanceRow
	if err := p.db.Where("instance_id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (p *GormPostgreSQL) SaveInstance(inst *models.BossInstance) error {
	var row instanceRow
	if err := p.db.Where("instance_id = ?", inst.ID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return err
	}
	row.fromModel(inst)
	return p.db.Save(&row).Error
}

func (p *GormPostgreSQL) DeleteInstance(id string) error {
	return p.db.Where("instance_id = ?", id).Delete(&instanceRow{}).Error
}

func (p *GormPostgreSQL) FindActiveByOwner(ownerID int64, now time.Time) (*models.BossInstance, error) {
	var row instanceRow
	err := p.db.Where("owner_id = ? AND is_completed = ? AND expires_at > ?", ownerID, false, now).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func participantMatch(userID int64) string {
	match, _ := json.Marshal([]map[string]int64{{"user_id": userID}})
	return string(match)
}

func (p *GormPostgreSQL) FindActiveByParticipant(userID int64, now time.Time) (*models.BossInstance, error) {
	var row instanceRow
	err := p.db.Where("is_completed = ? AND expires_at > ? AND (owner_id = ? OR participants @> ?)",
		false, now, userID, participantMatch(userID)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (p *GormPostgreSQL) ListAvailableInstances(userID int64, friendIDs []int64, now time.Time, limit int) ([]*models.BossInstance, []*models.BossInstance, error) {
	base := func() *gorm.DB {
		return p.db.Where("is_completed = ? AND expires_at > ? AND owner_id <> ? AND NOT participants @> ?",
			false, now, userID, participantMatch(userID)).
			Order("created_at desc").Limit(limit)
	}

	var publicRows []instanceRow
	if err := base().Where("is_private = ?", false).Find(&publicRows).Error; err != nil {
		return nil, nil, err
	}

	var privateRows []instanceRow
	privateQuery := base().Where("is_private = ?", true)
	if len(friendIDs) > 0 {
		privateQuery = privateQuery.Where("owner_id IN ? OR invited_players @> ?", friendIDs, participantMatch(userID))
	} else {
		privateQuery = privateQuery.Where("invited_players @> ?", participantMatch(userID))
	}
	if err := privateQuery.Find(&privateRows).Error; err != nil {
		return nil, nil, err
	}

	toModels := func(rows []instanceRow) []*models.BossInstance {
		result := make([]*models.BossInstance, 0, len(rows))
		for i := range rows {
			result = append(result, rows[i].toModel())
		}
		return result
	}
	return toModels(publicRows), toModels(privateRows), nil
}

func (p *GormPostgreSQL) FindExpiredInstances(now time.Time) ([]*models.BossInstance, error) {
	var rows []instanceRow
	if err := p.db.Where("is_completed = ? AND expires_at <= ?", false, now).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]*models.BossInstance, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toModel())
	}
	return result, nil
}

// ApplyDamage locks the instance row for the duration of the read-modify-write
// so concurrent hits serialize at the database instead of losing decrements.
func (p *GormPostgreSQL) ApplyDamage(instanceID string, userID int64, damage int64, now time.Time) (*DamageOutcome, error) {
	var outcome *DamageOutcome
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var row instanceRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("instance_id = ?", instanceID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			return err
		}

		inst := row.toModel()
		wasCompleted := inst.IsCompleted
		if !inst.TakeDamage(damage, userID, now) {
			return ErrInstanceUnavailable
		}

		row.fromModel(inst)
		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		outcome = &DamageOutcome{
			Instance:      inst,
			JustCompleted: inst.IsCompleted && !wasCompleted,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// ClaimRewards is a conditional update: only one caller observes an affected
// row, which implements the rewardsDistributed latch.
func (p *GormPostgreSQL) ClaimRewards(instanceID string) (bool, error) {
	res := p.db.Model(&instanceRow{}).
		Where("instance_id = ? AND is_completed = ? AND rewards_distributed = ?", instanceID, true, false).
		Update("rewards_distributed", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// --- Users ---

func (p *GormPostgreSQL) GetUser(id int64) (*models.User, error) {
	var row userRow
	if err := p.db.Where("user_id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (p *GormPostgreSQL) SaveUser(u *models.User) error {
	var row userRow
	result := p.db.Where("user_id = ?", u.ID).First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		row.fromModel(u)
		return p.db.Create(&row).Error
	} else if result.Error != nil {
		return result.Error
	}
	row.fromModel(u)
	return p.db.Save(&row).Error
}

func (p *GormPostgreSQL) SetActiveInstance(userID int64, instanceID string) error {
	res := p.db.Model(&userRow{}).Where("user_id = ?", userID).
		Update("active_boss_instance", instanceID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *GormPostgreSQL) SetOnline(userID int64, online bool, at time.Time) error {
	return p.db.Model(&userRow{}).Where("user_id = ?", userID).
		Updates(map[string]interface{}{"online": online, "last_seen": at}).Error
}

// --- Collaborator projections ---

func (p *GormPostgreSQL) AreFriends(a, b int64) (bool, error) {
	var count int64
	err := p.db.Model(&friendshipRow{}).
		Where("user_id = ? AND friend_id = ? AND status = ?", a, b, "accepted").
		Count(&count).Error
	return count > 0, err
}

func (p *GormPostgreSQL) FriendIDs(userID int64) ([]int64, error) {
	var ids []int64
	err := p.db.Model(&friendshipRow{}).
		Where("user_id = ? AND status = ?", userID, "accepted").
		Pluck("friend_id", &ids).Error
	return ids, err
}

func (p *GormPostgreSQL) GetEquippedItems(userID int64) ([]models.EquippedItem, error) {
	var rows []inventoryRow
	if err := p.db.Where("user_id = ? AND equipped = ?", userID, true).Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]models.EquippedItem, 0, len(rows))
	for i := range rows {
		items = append(items, models.EquippedItem{
			Slot:       rows[i].Slot,
			FlatDamage: rows[i].FlatDamage,
			Effects:    rows[i].Effects,
		})
	}
	return items, nil
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
