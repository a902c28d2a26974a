// services/template_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tyuryaga/gameserver/models"
	"github.com/tyuryaga/gameserver/persistence"
)

// TemplateService covers the operator-facing template catalog.
type TemplateService struct {
	db persistence.Database
}

func NewTemplateService(db persistence.Database) *TemplateService {
	return &TemplateService{db: db}
}

// Create registers a new boss template. Operator action, exposed over the
// admin RPC surface.
func (s *TemplateService) Create(t *models.BossTemplate) (*models.BossTemplate, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if t.MaxHP <= 0 {
		return nil, fmt.Errorf("%w: max hp must be positive", ErrValidation)
	}
	if t.RequiredLevel < 1 {
		t.RequiredLevel = 1
	}
	if t.InstanceDuration < time.Minute {
		t.InstanceDuration = 30 * time.Minute
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.IsActive = true

	if err := s.db.CreateTemplate(t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListActive returns the catalog of startable templates.
func (s *TemplateService) ListActive() ([]*models.BossTemplate, error) {
	return s.db.ListActiveTemplates()
}

// Stats returns the global aggregates of one template.
func (s *TemplateService) Stats(templateID string) (*models.BossTemplateStats, error) {
	template, err := s.db.GetTemplate(templateID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: boss template %s", ErrNotFound, templateID)
		}
		return nil, err
	}
	stats := template.Stats
	return &stats, nil
}

// PlayerBossStats returns a user's per-template combat record.
func (s *TemplateService) PlayerBossStats(userID int64) (map[string]*models.UserBossStats, error) {
	user, err := s.db.GetUser(userID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, err
	}
	return user.BossStats, nil
}
