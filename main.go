package main

import (
	"github.com/tyuryaga/gameserver/auth"
	"github.com/tyuryaga/gameserver/config"
	"github.com/tyuryaga/gameserver/logger"
	"github.com/tyuryaga/gameserver/monitor"
	"github.com/tyuryaga/gameserver/persistence"
	"github.com/tyuryaga/gameserver/server"
	"github.com/tyuryaga/gameserver/services"
	"github.com/tyuryaga/gameserver/timer"
)

func main() {
	// Initialize logger
	logger.Init()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database
	db, err := openDatabase(cfg)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Log.Info("Database connection successful.")

	authenticator := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret)

	// Initialize Game Server
	gameServer := server.NewGameServer(cfg.Server.HTTPAddress, cfg.Server.RPCAddress, db, authenticator)

	// Metrics endpoint
	mon := monitor.NewMonitor("gameserver")
	mon.StartServer(cfg.Server.MetricsAddress)
	gameServer.SetMonitor(mon)

	// Expiry sweep: run once at startup, then periodically
	sweeper := services.NewSweeper(db, gameServer.RoomManager())
	timers := timer.NewTimerManager()
	defer timers.Stop()
	timers.Schedule(0, cfg.Boss.SweepInterval, func() {
		if removed := sweeper.Sweep(); removed > 0 {
			mon.IncExpiredInstances(removed)
		}
	})

	// Start Server
	logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}

func openDatabase(cfg *config.Config) (persistence.Database, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return persistence.NewPostgreSQL(
			cfg.Database.Postgres.Host,
			cfg.Database.Postgres.Port,
			cfg.Database.Postgres.User,
			cfg.Database.Postgres.Password,
			cfg.Database.Postgres.DBName,
		)
	case "memory":
		return persistence.NewMemory(), nil
	default:
		return persistence.NewGormPostgreSQL(
			cfg.Database.Postgres.Host,
			cfg.Database.Postgres.Port,
			cfg.Database.Postgres.User,
			cfg.Database.Postgres.Password,
			cfg.Database.Postgres.DBName,
		)
	}
}
