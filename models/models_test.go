package models

import (
	"testing"
	"time"
)

func TestUser_GainExp_SingleLevel(t *testing.T) {
	user := &User{Level: 1, Exp: 0}

	gained := user.GainExp(1000)

	if gained != 1 {
		t.Errorf("Expected 1 level gained, got %d", gained)
	}
	if user.Level != 2 {
		t.Errorf("Expected level 2, got %d", user.Level)
	}
	if user.Exp != 0 {
		t.Errorf("Expected 0 remaining exp, got %d", user.Exp)
	}
}

func TestUser_GainExp_CarryOver(t *testing.T) {
	// Level 1 needs 1000, so 2500 leaves 1500 which is below the level-2
	// threshold of 2000.
	user := &User{Level: 1, Exp: 0}

	gained := user.GainExp(2500)

	if gained != 1 {
		t.Errorf("Expected 1 level gained, got %d", gained)
	}
	if user.Level != 2 {
		t.Errorf("Expected level 2, got %d", user.Level)
	}
	if user.Exp != 1500 {
		t.Errorf("Expected 1500 remaining exp, got %d", user.Exp)
	}
}

func TestUser_GainExp_MultipleLevels(t *testing.T) {
	user := &User{Level: 1, Exp: 0}

	// 1000 + 2000 + 3000 = 6000 exactly reaches level 4.
	gained := user.GainExp(6000)

	if gained != 3 {
		t.Errorf("Expected 3 levels gained, got %d", gained)
	}
	if user.Level != 4 {
		t.Errorf("Expected level 4, got %d", user.Level)
	}
	if user.Exp != 0 {
		t.Errorf("Expected 0 remaining exp, got %d", user.Exp)
	}
}

func TestUser_GainExp_BelowThreshold(t *testing.T) {
	user := &User{Level: 3, Exp: 100}

	gained := user.GainExp(500)

	if gained != 0 {
		t.Errorf("Expected no level gained, got %d", gained)
	}
	if user.Level != 3 {
		t.Errorf("Expected level to stay at 3, got %d", user.Level)
	}
	if user.Exp != 600 {
		t.Errorf("Expected 600 exp, got %d", user.Exp)
	}
}

func TestUser_TemplateStats_CreatesEntry(t *testing.T) {
	user := &User{}

	stats := user.TemplateStats("tpl-1")
	if stats == nil {
		t.Fatal("TemplateStats should never return nil")
	}

	stats.Attempts = 3

	again := user.TemplateStats("tpl-1")
	if again.Attempts != 3 {
		t.Errorf("Expected the same entry on second lookup, got attempts %d", again.Attempts)
	}
}

func TestBossTemplateStats_RecordKill(t *testing.T) {
	stats := &BossTemplateStats{}

	stats.RecordKill(10*time.Second, 1)
	stats.RecordKill(20*time.Second, 2)

	if stats.TotalKills != 2 {
		t.Errorf("Expected 2 kills, got %d", stats.TotalKills)
	}
	if stats.AverageKillTime != 15*time.Second {
		t.Errorf("Expected average 15s, got %v", stats.AverageKillTime)
	}
	if stats.FastestKillTime != 10*time.Second {
		t.Errorf("Expected fastest 10s, got %v", stats.FastestKillTime)
	}
	if stats.FastestKillBy != 1 {
		t.Errorf("Expected fastest kill by user 1, got %d", stats.FastestKillBy)
	}
}

func TestBossTemplateStats_RecordKill_KeepsFastest(t *testing.T) {
	stats := &BossTemplateStats{}

	stats.RecordKill(5*time.Second, 7)
	stats.RecordKill(30*time.Second, 8)

	if stats.FastestKillTime != 5*time.Second {
		t.Errorf("Expected fastest to remain 5s, got %v", stats.FastestKillTime)
	}
	if stats.FastestKillBy != 7 {
		t.Errorf("Expected fastest kill by user 7, got %d", stats.FastestKillBy)
	}
}
