package persistence

import (
	"errors"
	"testing"
	"time"

	"github.com/tyuryaga/gameserver/models"
)

func seedInstance(t *testing.T, db *Memory, id string, ownerID int64, hp int64, private bool) *models.BossInstance {
	t.Helper()
	now := time.Now()
	inst := &models.BossInstance{
		ID:         id,
		TemplateID: "tpl-1",
		OwnerID:    ownerID,
		CurrentHP:  hp,
		MaxHP:      hp,
		IsPrivate:  private,
		ExpiresAt:  now.Add(time.Hour),
		CreatedAt:  now,
		Participants: []models.Participant{
			{UserID: ownerID, JoinedAt: now},
		},
	}
	if err := db.CreateInstance(inst); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	return inst
}

func TestMemory_InstanceRoundTrip(t *testing.T) {
	db := NewMemory()
	seedInstance(t, db, "inst-1", 1, 500, false)

	inst, err := db.GetInstance("inst-1")
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if inst.CurrentHP != 500 {
		t.Errorf("Expected 500 HP, got %d", inst.CurrentHP)
	}

	// Returned values are copies: mutating them must not leak into the store.
	inst.CurrentHP = 1
	again, _ := db.GetInstance("inst-1")
	if again.CurrentHP != 500 {
		t.Error("GetInstance should return an isolated copy")
	}

	if _, err := db.GetInstance("missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestMemory_ApplyDamage(t *testing.T) {
	db := NewMemory()
	seedInstance(t, db, "inst-1", 1, 100, false)

	outcome, err := db.ApplyDamage("inst-1", 2, 60, time.Now())
	if err != nil {
		t.Fatalf("ApplyDamage failed: %v", err)
	}
	if outcome.JustCompleted {
		t.Error("Instance should not be completed at 40 HP")
	}
	if outcome.Instance.CurrentHP != 40 {
		t.Errorf("Expected 40 HP, got %d", outcome.Instance.CurrentHP)
	}

	outcome, err = db.ApplyDamage("inst-1", 2, 60, time.Now())
	if err != nil {
		t.Fatalf("Second ApplyDamage failed: %v", err)
	}
	if !outcome.JustCompleted {
		t.Error("The hit driving HP to 0 should report JustCompleted")
	}

	if _, err := db.ApplyDamage("inst-1", 2, 10, time.Now()); !errors.Is(err, ErrInstanceUnavailable) {
		t.Errorf("Expected ErrInstanceUnavailable on a dead boss, got %v", err)
	}
}

func TestMemory_ClaimRewards(t *testing.T) {
	db := NewMemory()
	inst := seedInstance(t, db, "inst-1", 1, 100, false)

	// Not completed yet: the latch must not flip.
	claimed, err := db.ClaimRewards("inst-1")
	if err != nil {
		t.Fatalf("ClaimRewards failed: %v", err)
	}
	if claimed {
		t.Error("ClaimRewards should refuse a live instance")
	}

	if _, err := db.ApplyDamage(inst.ID, 1, 100, time.Now()); err != nil {
		t.Fatalf("ApplyDamage failed: %v", err)
	}

	claimed, _ = db.ClaimRewards("inst-1")
	if !claimed {
		t.Error("First claim on a completed instance should win")
	}
	claimed, _ = db.ClaimRewards("inst-1")
	if claimed {
		t.Error("Second claim should lose")
	}
}

func TestMemory_FindActiveByParticipant(t *testing.T) {
	db := NewMemory()
	inst := seedInstance(t, db, "inst-1", 1, 100, false)
	now := time.Now()

	found, err := db.FindActiveByParticipant(1, now)
	if err != nil {
		t.Fatalf("Owner lookup failed: %v", err)
	}
	if found.ID != inst.ID {
		t.Error("Owner should be found as an active participant")
	}

	if _, err := db.FindActiveByParticipant(2, now); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound for a stranger, got %v", err)
	}

	// After the deadline the instance no longer counts as active.
	if _, err := db.FindActiveByParticipant(1, inst.ExpiresAt); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound past the deadline, got %v", err)
	}
}

func TestMemory_ListAvailableInstances(t *testing.T) {
	db := NewMemory()
	seedInstance(t, db, "pub-1", 1, 100, false)
	seedInstance(t, db, "priv-1", 2, 100, true)
	now := time.Now()

	// User 3 with no friends sees only the public instance.
	public, friendsPrivate, err := db.ListAvailableInstances(3, nil, now, 10)
	if err != nil {
		t.Fatalf("ListAvailableInstances failed: %v", err)
	}
	if len(public) != 1 || public[0].ID != "pub-1" {
		t.Errorf("Expected only pub-1, got %d entries", len(public))
	}
	if len(friendsPrivate) != 0 {
		t.Error("Expected no private instances for a stranger")
	}

	// With owner 2 as a friend the private instance becomes visible.
	_, friendsPrivate, _ = db.ListAvailableInstances(3, []int64{2}, now, 10)
	if len(friendsPrivate) != 1 || friendsPrivate[0].ID != "priv-1" {
		t.Error("Friend's private instance should be listed")
	}

	// Own instances are excluded from both lists.
	public, _, _ = db.ListAvailableInstances(1, nil, now, 10)
	if len(public) != 0 {
		t.Error("Own instance should not be listed as available")
	}
}

func TestMemory_FindExpiredInstances(t *testing.T) {
	db := NewMemory()
	inst := seedInstance(t, db, "inst-1", 1, 100, false)

	expired, err := db.FindExpiredInstances(time.Now())
	if err != nil {
		t.Fatalf("FindExpiredInstances failed: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("Nothing should be expired yet, got %d", len(expired))
	}

	expired, _ = db.FindExpiredInstances(inst.ExpiresAt.Add(time.Second))
	if len(expired) != 1 {
		t.Fatalf("Expected 1 expired instance, got %d", len(expired))
	}

	// Completed instances are never reported as expired.
	if _, err := db.ApplyDamage(inst.ID, 1, 100, time.Now()); err != nil {
		t.Fatalf("ApplyDamage failed: %v", err)
	}
	expired, _ = db.FindExpiredInstances(inst.ExpiresAt.Add(time.Second))
	if len(expired) != 0 {
		t.Errorf("Completed instance should not be reported, got %d", len(expired))
	}
}

func TestMemory_UserProjection(t *testing.T) {
	db := NewMemory()
	if err := db.SaveUser(&models.User{ID: 1, Nickname: "alpha", Level: 3}); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	if err := db.SetActiveInstance(1, "inst-9"); err != nil {
		t.Fatalf("SetActiveInstance failed: %v", err)
	}
	at := time.Now()
	if err := db.SetOnline(1, true, at); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}

	user, err := db.GetUser(1)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.ActiveBossInstance != "inst-9" {
		t.Error("Active instance reference was not stored")
	}
	if !user.Online || !user.LastSeen.Equal(at) {
		t.Error("Online flag and last seen were not stored")
	}

	if err := db.SetActiveInstance(99, "x"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound for an unknown user, got %v", err)
	}
}

func TestMemory_FriendsAndGear(t *testing.T) {
	db := NewMemory()
	db.SetFriends(1, 2)

	if ok, _ := db.AreFriends(1, 2); !ok {
		t.Error("Expected 1 and 2 to be friends")
	}
	if ok, _ := db.AreFriends(2, 1); !ok {
		t.Error("Friendship should be mutual")
	}
	if ok, _ := db.AreFriends(1, 3); ok {
		t.Error("1 and 3 should not be friends")
	}

	ids, _ := db.FriendIDs(1)
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("Expected friend list [2], got %v", ids)
	}

	db.SetEquippedItems(1, []models.EquippedItem{{Slot: "weapon", FlatDamage: 10}})
	items, err := db.GetEquippedItems(1)
	if err != nil {
		t.Fatalf("GetEquippedItems failed: %v", err)
	}
	if len(items) != 1 || items[0].FlatDamage != 10 {
		t.Errorf("Gear projection mismatch: %+v", items)
	}
}
