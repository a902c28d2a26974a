// services/sweeper.go
package services

import (
	"errors"
	"time"

	"github.com/tyuryaga/gameserver/logger"
	"github.com/tyuryaga/gameserver/persistence"
)

// RoomCloser closes the live combat room of a reclaimed instance.
type RoomCloser interface {
	RemoveByInstance(instanceID string)
}

// Sweeper reclaims instances whose deadline passed without a kill.
type Sweeper struct {
	db    persistence.Database
	rooms RoomCloser // may be nil when no realtime layer is wired
	now   func() time.Time
}

func NewSweeper(db persistence.Database, rooms RoomCloser) *Sweeper {
	return &Sweeper{db: db, rooms: rooms, now: time.Now}
}

// Sweep deletes every expired, non-completed instance and clears the
// owner's active-instance back-reference. Individual failures are logged
// and skipped so one broken instance never aborts the whole pass.
func (s *Sweeper) Sweep() int {
	expired, err := s.db.FindExpiredInstances(s.now())
	if err != nil {
		logger.Log.Errorf("Expiry sweep query failed: %v", err)
		return 0
	}

	removed := 0
	for _, inst := range expired {
		if err := s.db.SetActiveInstance(inst.OwnerID, ""); err != nil && !errors.Is(err, persistence.ErrRecordNotFound) {
			logger.Log.Warnf("Failed to clear active instance for owner %d: %v", inst.OwnerID, err)
		}
		if err := s.db.DeleteInstance(inst.ID); err != nil {
			logger.Log.Errorf("Failed to delete expired instance %s: %v", inst.ID, err)
			continue
		}
		if s.rooms != nil {
			s.rooms.RemoveByInstance(inst.ID)
		}
		removed++
	}

	if removed > 0 {
		logger.Log.Infof("Expiry sweep reclaimed %d boss instances", removed)
	}
	return removed
}
