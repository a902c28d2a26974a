package services

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tyuryaga/gameserver/models"
	"github.com/tyuryaga/gameserver/persistence"
)

// Concurrent attackers must never lose a decrement, and exactly one of
// them observes the completing hit.
func TestCombatService_ApplyDamage_Concurrent(t *testing.T) {
	const attackers = 50
	const perHit = int64(20)

	db := persistence.NewMemory()
	now := time.Now()
	inst := &models.BossInstance{
		ID:         "inst-conc",
		TemplateID: "tpl-1",
		OwnerID:    1,
		CurrentHP:  attackers * perHit,
		MaxHP:      attackers * perHit,
		ExpiresAt:  now.Add(time.Hour),
		CreatedAt:  now,
	}
	if err := db.CreateInstance(inst); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	for i := int64(1); i <= attackers; i++ {
		if err := db.SaveUser(&models.User{ID: i, Level: 5, DamageMultiplier: 1.0, CritDamageMultiplier: 1.0}); err != nil {
			t.Fatalf("SaveUser failed: %v", err)
		}
	}

	combat := NewCombatService(db)
	combat.rng = func() float64 { return 0.99 } // no crits, damage stays exact

	var wg sync.WaitGroup
	var completions int64
	for i := int64(1); i <= attackers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			result, err := combat.ApplyDamage(userID, "inst-conc", perHit)
			if err != nil {
				t.Errorf("ApplyDamage for user %d failed: %v", userID, err)
				return
			}
			if result.JustCompleted {
				atomic.AddInt64(&completions, 1)
			}
		}(i)
	}
	wg.Wait()

	if completions != 1 {
		t.Errorf("Exactly one attacker should observe completion, got %d", completions)
	}

	final, err := db.GetInstance("inst-conc")
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if final.CurrentHP != 0 {
		t.Errorf("Expected 0 HP, got %d", final.CurrentHP)
	}
	if !final.IsCompleted {
		t.Error("Instance should be completed")
	}

	var total int64
	for _, p := range final.Participants {
		total += p.DamageDealt
	}
	if total != attackers*perHit {
		t.Errorf("Recorded damage should sum to %d, got %d", attackers*perHit, total)
	}
}

// Two goroutines race on the rewards latch; only one wins.
func TestMemory_ClaimRewards_Race(t *testing.T) {
	db := persistence.NewMemory()
	now := time.Now()
	if err := db.CreateInstance(&models.BossInstance{
		ID:          "inst-latch",
		OwnerID:     1,
		CurrentHP:   0,
		MaxHP:       100,
		IsCompleted: true,
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
	}); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := db.ClaimRewards("inst-latch")
			if err != nil {
				t.Errorf("ClaimRewards failed: %v", err)
				return
			}
			if claimed {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Exactly one claim should win, got %d", wins)
	}
}
