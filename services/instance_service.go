// services/instance_service.go
package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tyuryaga/gameserver/logger"
	"github.com/tyuryaga/gameserver/models"
	"github.com/tyuryaga/gameserver/network"
	"github.com/tyuryaga/gameserver/persistence"
)

// DefaultAvailableLimit caps the available-instance listing.
const DefaultAvailableLimit = 20

// InstanceService owns the boss instance lifecycle: creation, joining,
// invitations, deletion and visibility.
type InstanceService struct {
	db       persistence.Database
	notifier Notifier
	now      func() time.Time
}

func NewInstanceService(db persistence.Database, notifier Notifier) *InstanceService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &InstanceService{db: db, notifier: notifier, now: time.Now}
}

// Create spawns a new instance of templateID owned by userID. Enforces the
// one-live-instance-per-user rule and the template's level gate.
func (s *InstanceService) Create(userID int64, templateID string, isPrivate bool) (*models.BossInstance, error) {
	if templateID == "" {
		return nil, fmt.Errorf("%w: template id is required", ErrValidation)
	}

	now := s.now()

	// 一个玩家同一时间只能参与一个未完成实例
	if _, err := s.db.FindActiveByParticipant(userID, now); err == nil {
		return nil, fmt.Errorf("%w: user already has an active boss instance", ErrConflict)
	} else if !errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, err
	}

	template, err := s.db.GetTemplate(templateID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: boss template %s", ErrNotFound, templateID)
		}
		return nil, err
	}
	if !template.IsActive {
		return nil, fmt.Errorf("%w: boss template %s is inactive", ErrUnavailable, templateID)
	}

	user, err := s.db.GetUser(userID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, err
	}
	if user.Level < template.RequiredLevel {
		return nil, fmt.Errorf("%w: level %d required", ErrInsufficientLevel, template.RequiredLevel)
	}

	inst := &models.BossInstance{
		ID:         uuid.New().String(),
		TemplateID: template.ID,
		OwnerID:    userID,
		CurrentHP:  template.MaxHP,
		MaxHP:      template.MaxHP,
		ExpiresAt:  now.Add(template.InstanceDuration),
		IsPrivate:  isPrivate,
		Participants: []models.Participant{
			{UserID: userID, DamageDealt: 0, JoinedAt: now},
		},
		CreatedAt: now,
	}

	if err := s.db.CreateInstance(inst); err != nil {
		return nil, err
	}

	// 活跃实例引用和统计在同一次保存里写入，避免互相覆盖
	stats := user.TemplateStats(template.ID)
	stats.Attempts++
	user.ActiveBossInstance = inst.ID
	if err := s.db.SaveUser(user); err != nil {
		return nil, err
	}
	if err := s.db.RecordAttempt(template.ID); err != nil {
		logger.Log.Warnf("Failed to record attempt for template %s: %v", template.ID, err)
	}

	logger.Log.Infof("User %d created boss instance %s (template %s, private=%v)",
		userID, inst.ID, template.ID, isPrivate)
	return inst, nil
}

// Join adds userID as a participant of an existing instance.
func (s *InstanceService) Join(userID int64, instanceID string) (*models.BossInstance, error) {
	now := s.now()

	inst, err := s.getInstance(instanceID)
	if err != nil {
		return nil, err
	}
	if !inst.IsAvailable(now) {
		return nil, fmt.Errorf("%w: instance %s", ErrUnavailable, instanceID)
	}
	if inst.OwnerID == userID {
		return nil, fmt.Errorf("%w: cannot join your own instance", ErrConflict)
	}

	if active, err := s.db.FindActiveByParticipant(userID, now); err == nil {
		if active.ID == instanceID {
			return nil, fmt.Errorf("%w: already participating in this instance", ErrConflict)
		}
		return nil, fmt.Errorf("%w: user already has an active boss instance", ErrConflict)
	} else if !errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, err
	}

	if !inst.AddParticipant(userID, now) {
		return nil, fmt.Errorf("%w: already participating in this instance", ErrConflict)
	}
	if err := s.db.SaveInstance(inst); err != nil {
		return nil, err
	}
	if err := s.db.SetActiveInstance(userID, inst.ID); err != nil {
		return nil, err
	}

	logger.Log.Infof("User %d joined boss instance %s", userID, instanceID)
	return inst, nil
}

// Invite records an invitation to a private instance and notifies the
// friend's live sessions.
func (s *InstanceService) Invite(ownerID int64, instanceID string, friendID int64) error {
	if friendID == 0 {
		return fmt.Errorf("%w: friend id is required", ErrValidation)
	}

	inst, err := s.getInstance(instanceID)
	if err != nil {
		return err
	}
	if inst.OwnerID != ownerID {
		return fmt.Errorf("%w: only the owner may invite players", ErrAccessDenied)
	}
	if !inst.IsPrivate {
		return fmt.Errorf("%w: instance is public, invitations are not needed", ErrValidation)
	}
	if !inst.IsAvailable(s.now()) {
		return fmt.Errorf("%w: instance %s", ErrUnavailable, instanceID)
	}

	areFriends, err := s.db.AreFriends(ownerID, friendID)
	if err != nil {
		return err
	}
	if !areFriends {
		return fmt.Errorf("%w: only friends may be invited", ErrAccessDenied)
	}

	if inst.Participant(friendID) != nil {
		return fmt.Errorf("%w: player already participates in this instance", ErrConflict)
	}
	if !inst.InvitePlayer(friendID, s.now()) {
		return fmt.Errorf("%w: player already invited", ErrConflict)
	}
	if err := s.db.SaveInstance(inst); err != nil {
		return err
	}

	s.notifyInvitation(inst, ownerID, friendID)
	return nil
}

func (s *InstanceService) notifyInvitation(inst *models.BossInstance, ownerID, friendID int64) {
	owner, err := s.db.GetUser(ownerID)
	if err != nil {
		logger.Log.Warnf("Failed to load owner %d for invitation: %v", ownerID, err)
		return
	}
	template, err := s.db.GetTemplate(inst.TemplateID)
	if err != nil {
		logger.Log.Warnf("Failed to load template %s for invitation: %v", inst.TemplateID, err)
		return
	}

	data, _ := json.Marshal(network.BossInvitationPayload{
		InstanceID:   inst.ID,
		FromUserID:   ownerID,
		FromNickname: owner.Nickname,
		BossName:     template.Name,
		BossLevel:    template.Level,
		CurrentHP:    inst.CurrentHP,
		MaxHP:        inst.MaxHP,
		ExpiresAt:    inst.ExpiresAt,
	})
	if err := s.notifier.SendToUser(friendID, network.MsgTypeBossInvitation, data); err != nil {
		logger.Log.Warnf("Failed to notify user %d about invitation: %v", friendID, err)
	}
}

// Delete removes a non-completed instance. Owner only.
func (s *InstanceService) Delete(ownerID int64, instanceID string) error {
	inst, err := s.getInstance(instanceID)
	if err != nil {
		return err
	}
	if inst.OwnerID != ownerID {
		return fmt.Errorf("%w: only the owner may delete the instance", ErrAccessDenied)
	}
	if inst.IsCompleted {
		return fmt.Errorf("%w: completed instances cannot be deleted", ErrUnavailable)
	}

	if err := s.db.DeleteInstance(instanceID); err != nil {
		return err
	}
	if err := s.db.SetActiveInstance(ownerID, ""); err != nil && !errors.Is(err, persistence.ErrRecordNotFound) {
		logger.Log.Warnf("Failed to clear active instance for user %d: %v", ownerID, err)
	}

	logger.Log.Infof("User %d deleted boss instance %s", ownerID, instanceID)
	return nil
}

// GetActive returns the live instance userID owns or participates in, or
// nil when there is none.
func (s *InstanceService) GetActive(userID int64) (*models.BossInstance, error) {
	inst, err := s.db.FindActiveByParticipant(userID, s.now())
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return inst, nil
}

// ListAvailable returns joinable public instances plus private instances of
// friends (or ones the caller was invited to).
func (s *InstanceService) ListAvailable(userID int64, limit int) (public, friendsPrivate []*models.BossInstance, err error) {
	if limit <= 0 {
		limit = DefaultAvailableLimit
	}
	friendIDs, err := s.db.FriendIDs(userID)
	if err != nil {
		return nil, nil, err
	}
	return s.db.ListAvailableInstances(userID, friendIDs, s.now(), limit)
}

// Get returns an instance after the visibility check.
func (s *InstanceService) Get(userID int64, instanceID string) (*models.BossInstance, error) {
	inst, err := s.getInstance(instanceID)
	if err != nil {
		return nil, err
	}
	if !inst.HasAccess(userID) {
		return nil, fmt.Errorf("%w: no access to instance %s", ErrAccessDenied, instanceID)
	}
	return inst, nil
}

func (s *InstanceService) getInstance(instanceID string) (*models.BossInstance, error) {
	inst, err := s.db.GetInstance(instanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: boss instance %s", ErrNotFound, instanceID)
		}
		return nil, err
	}
	return inst, nil
}
