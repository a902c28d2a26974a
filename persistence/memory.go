// persistence/memory.go
package persistence

import (
	"sort"
	"sync"
	"time"

	"github.com/tyuryaga/gameserver/models"
)

// Memory is an in-process Database used for development mode and tests.
// A single mutex serializes every operation, which makes ApplyDamage and
// ClaimRewards trivially atomic.
type Memory struct {
	mutex     sync.Mutex
	templates map[string]*models.BossTemplate
	instances map[string]*models.BossInstance
	users     map[int64]*models.User
	friends   map[int64]map[int64]bool
	equipped  map[int64][]models.EquippedItem
}

func NewMemory() *Memory {
	return &Memory{
		templates: make(map[string]*models.BossTemplate),
		instances: make(map[string]*models.BossInstance),
		users:     make(map[int64]*models.User),
		friends:   make(map[int64]map[int64]bool),
		equipped:  make(map[int64][]models.EquippedItem),
	}
}

func copyInstance(src *models.BossInstance) *models.BossInstance {
	dst := *src
	dst.Participants = append([]models.Participant(nil), src.Participants...)
	dst.InvitedPlayers = append([]models.Invitation(nil), src.InvitedPlayers...)
	return &dst
}

func copyUser(src *models.User) *models.User {
	dst := *src
	dst.BossStats = make(map[string]*models.UserBossStats, len(src.BossStats))
	for k, v := range src.BossStats {
		stats := *v
		dst.BossStats[k] = &stats
	}
	return &dst
}

func copyTemplate(src *models.BossTemplate) *models.BossTemplate {
	dst := *src
	dst.Rewards.Items = append([]models.ItemDrop(nil), src.Rewards.Items...)
	return &dst
}

// --- Templates ---

func (m *Memory) CreateTemplate(t *models.BossTemplate) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.templates[t.ID] = copyTemplate(t)
	return nil
}

func (m *Memory) GetTemplate(id string) (*models.BossTemplate, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyTemplate(t), nil
}

func (m *Memory) ListActiveTemplates() ([]*models.BossTemplate, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var result []*models.BossTemplate
	for _, t := range m.templates {
		if t.IsActive {
			result = append(result, copyTemplate(t))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Level < result[j].Level })
	return result, nil
}

func (m *Memory) RecordAttempt(templateID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	t, ok := m.templates[templateID]
	if !ok {
		return ErrRecordNotFound
	}
	t.Stats.TotalAttempts++
	return nil
}

func (m *Memory) RecordKill(templateID string, duration time.Duration, killerID int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	t, ok := m.templates[templateID]
	if !ok {
		return ErrRecordNotFound
	}
	t.Stats.RecordKill(duration, killerID)
	return nil
}

// --- Instances ---

func (m *Memory) CreateInstance(inst *models.BossInstance) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (m *Memory) GetInstance(id string) (*models.BossInstance, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyInstance(inst), nil
}

func (m *Memory) SaveInstance(inst *models.BossInstance) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.instances[inst.ID]; !ok {
		return ErrRecordNotFound
	}
	m.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (m *Memory) DeleteInstance(id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.instances, id)
	return nil
}

func live(inst *models.BossInstance, now time.Time) bool {
	return !inst.IsCompleted && now.Before(inst.ExpiresAt)
}

func (m *Memory) FindActiveByOwner(ownerID int64, now time.Time) (*models.BossInstance, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, inst := range m.instances {
		if inst.OwnerID == ownerID && live(inst, now) {
			return copyInstance(inst), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *Memory) FindActiveByParticipant(userID int64, now time.Time) (*models.BossInstance, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, inst := range m.instances {
		if !live(inst, now) {
			continue
		}
		if inst.OwnerID == userID || inst.Participant(userID) != nil {
			return copyInstance(inst), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *Memory) ListAvailableInstances(userID int64, friendIDs []int64, now time.Time, limit int) ([]*models.BossInstance, []*models.BossInstance, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	friendSet := make(map[int64]bool, len(friendIDs))
	for _, id := range friendIDs {
		friendSet[id] = true
	}

	var public, friendsPrivate []*models.BossInstance
	for _, inst := range m.instances {
		if !live(inst, now) || inst.OwnerID == userID || inst.Participant(userID) != nil {
			continue
		}
		if !inst.IsPrivate {
			public = append(public, copyInstance(inst))
		} else if friendSet[inst.OwnerID] || inst.IsInvited(userID) {
			friendsPrivate = append(friendsPrivate, copyInstance(inst))
		}
	}

	byNewest := func(list []*models.BossInstance) {
		sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	}
	byNewest(public)
	byNewest(friendsPrivate)
	if limit > 0 {
		if len(public) > limit {
			public = public[:limit]
		}
		if len(friendsPrivate) > limit {
			friendsPrivate = friendsPrivate[:limit]
		}
	}
	return public, friendsPrivate, nil
}

func (m *Memory) FindExpiredInstances(now time.Time) ([]*models.BossInstance, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var result []*models.BossInstance
	for _, inst := range m.instances {
		if !inst.IsCompleted && !now.Before(inst.ExpiresAt) {
			result = append(result, copyInstance(inst))
		}
	}
	return result, nil
}

func (m *Memory) ApplyDamage(instanceID string, userID int64, damage int64, now time.Time) (*DamageOutcome, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, ErrRecordNotFound
	}

	wasCompleted := inst.IsCompleted
	if !inst.TakeDamage(damage, userID, now) {
		return nil, ErrInstanceUnavailable
	}

	return &DamageOutcome{
		Instance:      copyInstance(inst),
		JustCompleted: inst.IsCompleted && !wasCompleted,
	}, nil
}

func (m *Memory) ClaimRewards(instanceID string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	inst, ok := m.instances[instanceID]
	if !ok {
		return false, ErrRecordNotFound
	}
	if !inst.IsCompleted || inst.RewardsDistributed {
		return false, nil
	}
	inst.RewardsDistributed = true
	return true, nil
}

// --- Users ---

func (m *Memory) GetUser(id int64) (*models.User, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyUser(u), nil
}

func (m *Memory) SaveUser(u *models.User) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *Memory) SetActiveInstance(userID int64, instanceID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrRecordNotFound
	}
	u.ActiveBossInstance = instanceID
	return nil
}

func (m *Memory) SetOnline(userID int64, online bool, at time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrRecordNotFound
	}
	u.Online = online
	u.LastSeen = at
	return nil
}

// --- Collaborator projections ---

func (m *Memory) AreFriends(a, b int64) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.friends[a][b], nil
}

func (m *Memory) FriendIDs(userID int64) ([]int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var ids []int64
	for id := range m.friends[userID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) GetEquippedItems(userID int64) ([]models.EquippedItem, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]models.EquippedItem(nil), m.equipped[userID]...), nil
}

// SetFriends records a mutual accepted friendship.
func (m *Memory) SetFriends(a, b int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.friends[a] == nil {
		m.friends[a] = make(map[int64]bool)
	}
	if m.friends[b] == nil {
		m.friends[b] = make(map[int64]bool)
	}
	m.friends[a][b] = true
	m.friends[b][a] = true
}

// SetEquippedItems replaces a user's equipped gear projection.
func (m *Memory) SetEquippedItems(userID int64, items []models.EquippedItem) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.equipped[userID] = append([]models.EquippedItem(nil), items...)
}

func (m *Memory) Close() error {
	return nil
}
