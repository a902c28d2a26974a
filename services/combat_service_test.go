package services

import (
	"errors"
	"testing"

	"github.com/tyuryaga/gameserver/models"
)

func TestComputeDamage_NoGearNoCrit(t *testing.T) {
	user := &models.User{DamageMultiplier: 1.5, CritDamageMultiplier: 2.0, CritChance: 0}

	damage, crit := ComputeDamage(user, nil, 100, 0.99)

	if crit {
		t.Error("Expected no crit with 0% crit chance")
	}
	if damage != 150 {
		t.Errorf("Expected 150 damage, got %d", damage)
	}
}

func TestComputeDamage_Crit(t *testing.T) {
	user := &models.User{DamageMultiplier: 1.5, CritDamageMultiplier: 2.0, CritChance: 100}

	damage, crit := ComputeDamage(user, nil, 100, 0.5)

	if !crit {
		t.Fatal("Expected a guaranteed crit with 100% crit chance")
	}
	if damage != 300 {
		t.Errorf("Expected 300 damage, got %d", damage)
	}
}

func TestComputeDamage_DamageMultiplierFloor(t *testing.T) {
	// A zero (unset) multiplier is lifted to the 0.1 floor.
	user := &models.User{DamageMultiplier: 0, CritDamageMultiplier: 1.0}

	damage, _ := ComputeDamage(user, nil, 100, 0.99)

	if damage != 10 {
		t.Errorf("Expected 10 damage at the multiplier floor, got %d", damage)
	}
}

func TestComputeDamage_WeaponFlatDamage(t *testing.T) {
	user := &models.User{DamageMultiplier: 1.0, CritDamageMultiplier: 1.0}
	items := []models.EquippedItem{
		{Slot: models.SlotWeapon, FlatDamage: 50},
	}

	damage, _ := ComputeDamage(user, items, 100, 0.99)

	if damage != 150 {
		t.Errorf("Expected 150 damage with weapon bonus, got %d", damage)
	}
}

func TestComputeDamage_WeaponBoostOverridesFlat(t *testing.T) {
	// A permanent damage_boost on the weapon replaces a weaker flat damage,
	// it does not stack with it.
	user := &models.User{DamageMultiplier: 1.0, CritDamageMultiplier: 1.0}
	items := []models.EquippedItem{
		{
			Slot:       models.SlotWeapon,
			FlatDamage: 50,
			Effects: []models.ItemEffect{
				{Type: models.EffectDamageBoost, Value: 80, Duration: 0},
			},
		},
	}

	damage, _ := ComputeDamage(user, items, 100, 0.99)

	if damage != 180 {
		t.Errorf("Expected 180 damage (boost overrides flat), got %d", damage)
	}
}

func TestComputeDamage_WeaponKeepsStrongerFlat(t *testing.T) {
	user := &models.User{DamageMultiplier: 1.0, CritDamageMultiplier: 1.0}
	items := []models.EquippedItem{
		{
			Slot:       models.SlotWeapon,
			FlatDamage: 90,
			Effects: []models.ItemEffect{
				{Type: models.EffectDamageBoost, Value: 40, Duration: 0},
			},
		},
	}

	damage, _ := ComputeDamage(user, items, 100, 0.99)

	if damage != 190 {
		t.Errorf("Expected 190 damage (flat beats weaker boost), got %d", damage)
	}
}

func TestComputeDamage_GearCritMultiplier(t *testing.T) {
	// A damage_boost on non-weapon gear raises the crit multiplier candidate.
	user := &models.User{DamageMultiplier: 1.0, CritDamageMultiplier: 1.5, CritChance: 100}
	items := []models.EquippedItem{
		{
			Slot: "ring",
			Effects: []models.ItemEffect{
				{Type: models.EffectDamageBoost, Value: 3.0},
			},
		},
	}

	damage, crit := ComputeDamage(user, items, 100, 0.0)

	if !crit {
		t.Fatal("Expected a crit")
	}
	if damage != 300 {
		t.Errorf("Expected 300 damage with gear crit multiplier 3.0, got %d", damage)
	}
}

func TestComputeDamage_LuckBoostAddsCritChance(t *testing.T) {
	user := &models.User{DamageMultiplier: 1.0, CritDamageMultiplier: 2.0, CritChance: 30}
	items := []models.EquippedItem{
		{
			Slot: "amulet",
			Effects: []models.ItemEffect{
				{Type: models.EffectLuckBoost, Value: 40},
			},
		},
	}

	// Combined chance 70%: a 0.65 roll crits, a 0.75 roll does not.
	if _, crit := ComputeDamage(user, items, 100, 0.65); !crit {
		t.Error("Roll of 0.65 should crit at 70% chance")
	}
	if _, crit := ComputeDamage(user, items, 100, 0.75); crit {
		t.Error("Roll of 0.75 should not crit at 70% chance")
	}
}

func TestComputeDamage_CritChanceClamped(t *testing.T) {
	user := &models.User{DamageMultiplier: 1.0, CritDamageMultiplier: 2.0, CritChance: 90}
	items := []models.EquippedItem{
		{
			Slot: "amulet",
			Effects: []models.ItemEffect{
				{Type: models.EffectLuckBoost, Value: 500},
			},
		},
	}

	// Even with absurd luck, the chance is capped at 100. The highest
	// possible roll still crits.
	if _, crit := ComputeDamage(user, items, 100, 0.999999); !crit {
		t.Error("Clamped 100% chance should always crit")
	}
}

func TestComputeDamage_FlooredResult(t *testing.T) {
	user := &models.User{DamageMultiplier: 1.33, CritDamageMultiplier: 1.0}

	damage, _ := ComputeDamage(user, nil, 10, 0.99)

	// 10 * 1.33 = 13.3, floored to 13.
	if damage != 13 {
		t.Errorf("Expected floored damage 13, got %d", damage)
	}
}

func TestCombatService_ApplyDamage(t *testing.T) {
	db := newTestStore(t)
	instances := NewInstanceService(db, nil)
	combat := NewCombatService(db)
	combat.rng = func() float64 { return 0.99 } // never crit

	inst, err := instances.Create(1, "tpl-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := combat.ApplyDamage(1, inst.ID, 100)
	if err != nil {
		t.Fatalf("ApplyDamage failed: %v", err)
	}

	if result.Damage != 100 {
		t.Errorf("Expected 100 effective damage, got %d", result.Damage)
	}
	if result.Instance.CurrentHP != 900 {
		t.Errorf("Expected 900 HP remaining, got %d", result.Instance.CurrentHP)
	}
	if result.JustCompleted {
		t.Error("Instance should not be completed")
	}
}

func TestCombatService_ApplyDamage_Completes(t *testing.T) {
	db := newTestStore(t)
	instances := NewInstanceService(db, nil)
	combat := NewCombatService(db)
	combat.rng = func() float64 { return 0.99 }

	inst, err := instances.Create(1, "tpl-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := combat.ApplyDamage(1, inst.ID, 5000)
	if err != nil {
		t.Fatalf("ApplyDamage failed: %v", err)
	}

	if !result.JustCompleted {
		t.Error("Overkill hit should complete the instance")
	}
	if result.Instance.CurrentHP != 0 {
		t.Errorf("HP should clamp at 0, got %d", result.Instance.CurrentHP)
	}
}

func TestCombatService_ApplyDamage_Validation(t *testing.T) {
	db := newTestStore(t)
	combat := NewCombatService(db)

	if _, err := combat.ApplyDamage(1, "whatever", 0); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for zero damage, got %v", err)
	}
	if _, err := combat.ApplyDamage(1, "missing", 100); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing instance, got %v", err)
	}
}

func TestCombatService_ApplyDamage_PrivateAccess(t *testing.T) {
	db := newTestStore(t)
	instances := NewInstanceService(db, nil)
	combat := NewCombatService(db)
	combat.rng = func() float64 { return 0.99 }

	inst, err := instances.Create(1, "tpl-1", true)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := combat.ApplyDamage(3, inst.ID, 100); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Expected ErrAccessDenied for a stranger on a private instance, got %v", err)
	}
}

func TestCombatService_ApplyDamage_CompletedInstance(t *testing.T) {
	db := newTestStore(t)
	instances := NewInstanceService(db, nil)
	combat := NewCombatService(db)
	combat.rng = func() float64 { return 0.99 }

	inst, err := instances.Create(1, "tpl-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := combat.ApplyDamage(1, inst.ID, 5000); err != nil {
		t.Fatalf("Lethal hit failed: %v", err)
	}

	if _, err := combat.ApplyDamage(1, inst.ID, 100); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable on a dead boss, got %v", err)
	}
}
