// services/reward_service.go
package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tyuryaga/gameserver/logger"
	"github.com/tyuryaga/gameserver/network"
	"github.com/tyuryaga/gameserver/persistence"
)

// RewardGrant records what one participant received.
type RewardGrant struct {
	UserID       int64
	Nickname     string
	Money        int64
	Exp          int64
	LevelsGained int
}

// RewardService grants money/experience/level-ups to participants exactly
// once per completed instance and folds the run into the template's global
// statistics.
type RewardService struct {
	db       persistence.Database
	notifier Notifier
	now      func() time.Time
}

func NewRewardService(db persistence.Database, notifier Notifier) *RewardService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &RewardService{db: db, notifier: notifier, now: time.Now}
}

// Distribute grants the full template reward to every participant who dealt
// damage. A second call for the same instance is a no-op: the
// rewardsDistributed latch is claimed atomically at the storage layer.
func (s *RewardService) Distribute(instanceID string) ([]RewardGrant, error) {
	inst, err := s.db.GetInstance(instanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: boss instance %s", ErrNotFound, instanceID)
		}
		return nil, err
	}
	if !inst.IsCompleted {
		return nil, fmt.Errorf("%w: instance %s is not completed", ErrValidation, instanceID)
	}

	claimed, err := s.db.ClaimRewards(instanceID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Already distributed by another writer.
		return nil, nil
	}

	template, err := s.db.GetTemplate(inst.TemplateID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var grants []RewardGrant
	for _, p := range inst.Participants {
		user, err := s.db.GetUser(p.UserID)
		if err != nil {
			logger.Log.Errorf("Failed to load participant %d for rewards: %v", p.UserID, err)
			continue
		}
		user.ActiveBossInstance = ""

		// 没有输出的参与者只清掉活跃引用，不发奖励
		if p.DamageDealt <= 0 {
			if err := s.db.SaveUser(user); err != nil {
				logger.Log.Errorf("Failed to save participant %d: %v", p.UserID, err)
			}
			continue
		}

		user.Money += template.Rewards.Money
		levels := user.GainExp(template.Rewards.Exp)

		stats := user.TemplateStats(inst.TemplateID)
		stats.Kills++
		stats.LastKilledAt = now
		if stats.BestTime == 0 || inst.BattleDuration < stats.BestTime {
			stats.BestTime = inst.BattleDuration
		}

		if err := s.db.SaveUser(user); err != nil {
			logger.Log.Errorf("Failed to save rewards for participant %d: %v", p.UserID, err)
			continue
		}

		grants = append(grants, RewardGrant{
			UserID:       p.UserID,
			Nickname:     user.Nickname,
			Money:        template.Rewards.Money,
			Exp:          template.Rewards.Exp,
			LevelsGained: levels,
		})

		data, _ := json.Marshal(network.BossRewardsPayload{
			BossName:     template.Name,
			Money:        template.Rewards.Money,
			Exp:          template.Rewards.Exp,
			LevelsGained: levels,
		})
		if err := s.notifier.SendToUser(p.UserID, network.MsgTypeBossRewards, data); err != nil {
			logger.Log.Warnf("Failed to notify user %d about rewards: %v", p.UserID, err)
		}
	}

	if err := s.db.RecordKill(inst.TemplateID, inst.BattleDuration, inst.OwnerID); err != nil {
		logger.Log.Errorf("Failed to record kill for template %s: %v", inst.TemplateID, err)
	}

	logger.Log.Infof("Distributed rewards for instance %s to %d participants", instanceID, len(grants))
	return grants, nil
}
