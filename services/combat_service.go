// services/combat_service.go
package services

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/tyuryaga/gameserver/models"
	"github.com/tyuryaga/gameserver/persistence"
)

// DamageResult is returned to the caller of ApplyDamage so the gateway can
// broadcast the applied amount and, on completion, trigger rewards.
type DamageResult struct {
	Damage        int64
	Crit          bool
	Instance      *models.BossInstance
	JustCompleted bool
}

// CombatService computes effective damage from a raw input plus player
// stats and equipped gear, and applies it atomically to an instance.
type CombatService struct {
	db  persistence.Database
	rng func() float64 // uniform [0,1)
	now func() time.Time
}

func NewCombatService(db persistence.Database) *CombatService {
	return &CombatService{db: db, rng: rand.Float64, now: time.Now}
}

// ApplyDamage validates the hit, rolls the crit, and delegates the HP
// decrement to the storage layer's atomic update.
func (s *CombatService) ApplyDamage(userID int64, instanceID string, rawDamage int64) (*DamageResult, error) {
	if rawDamage <= 0 {
		return nil, fmt.Errorf("%w: damage must be positive", ErrValidation)
	}

	now := s.now()
	inst, err := s.db.GetInstance(instanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: boss instance %s", ErrNotFound, instanceID)
		}
		return nil, err
	}
	if !inst.HasAccess(userID) {
		return nil, fmt.Errorf("%w: no access to instance %s", ErrAccessDenied, instanceID)
	}
	if !inst.IsAvailable(now) {
		return nil, fmt.Errorf("%w: instance %s", ErrUnavailable, instanceID)
	}

	user, err := s.db.GetUser(userID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, err
	}

	items, err := s.db.GetEquippedItems(userID)
	if err != nil {
		return nil, err
	}

	damage, crit := ComputeDamage(user, items, rawDamage, s.rng())

	outcome, err := s.db.ApplyDamage(instanceID, userID, damage, now)
	if err != nil {
		switch {
		case errors.Is(err, persistence.ErrRecordNotFound):
			return nil, fmt.Errorf("%w: boss instance %s", ErrNotFound, instanceID)
		case errors.Is(err, persistence.ErrInstanceUnavailable):
			// 并发下实例可能在校验后被打死/超时
			return nil, fmt.Errorf("%w: instance %s", ErrUnavailable, instanceID)
		default:
			return nil, err
		}
	}

	return &DamageResult{
		Damage:        damage,
		Crit:          crit,
		Instance:      outcome.Instance,
		JustCompleted: outcome.JustCompleted,
	}, nil
}

// ComputeDamage resolves one hit. roll is a uniform draw in [0,1).
//
// The weapon slot's flat damage can be overridden (max, not summed) by a
// permanent damage_boost on the weapon itself. Every other equipped item
// adds its flat damage; its damage_boost effects raise the crit multiplier
// candidate and its luck_boost effects add to the crit chance.
func ComputeDamage(user *models.User, items []models.EquippedItem, rawDamage int64, roll float64) (int64, bool) {
	var weaponBonus float64
	var gearCritMultiplier float64
	var critChanceBonus float64

	for _, item := range items {
		if item.Slot == models.SlotWeapon {
			bonus := float64(item.FlatDamage)
			for _, eff := range item.Effects {
				if eff.Type == models.EffectDamageBoost && eff.Duration == 0 && eff.Value > bonus {
					bonus = eff.Value
				}
			}
			weaponBonus += bonus
			continue
		}

		weaponBonus += float64(item.FlatDamage)
		for _, eff := range item.Effects {
			switch eff.Type {
			case models.EffectDamageBoost:
				if eff.Value > gearCritMultiplier {
					gearCritMultiplier = eff.Value
				}
			case models.EffectLuckBoost:
				critChanceBonus += eff.Value
			}
		}
	}

	base := float64(rawDamage) + weaponBonus

	damageMultiplier := math.Max(0.1, user.DamageMultiplier)
	critMultiplier := math.Max(1, math.Max(user.CritDamageMultiplier, gearCritMultiplier))

	critChance := user.CritChance + critChanceBonus
	if critChance < 0 {
		critChance = 0
	}
	if critChance > 100 {
		critChance = 100
	}

	crit := roll*100 < critChance

	final := base * damageMultiplier
	if crit {
		final *= critMultiplier
	}
	return int64(math.Floor(final)), crit
}
