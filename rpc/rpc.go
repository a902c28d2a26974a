package rpc

import (
	"net"
	"net/rpc"
	"time"

	"github.com/tyuryaga/gameserver/logger"
	"github.com/tyuryaga/gameserver/models"
	"github.com/tyuryaga/gameserver/services"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
}

// NewServer creates a new RPC server. Services are registered by the caller
// via rpc.Register before Start.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  addr,
	}, nil
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if the error is due to the listener being closed.
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// BossService exposes the operator surface: template administration and
// statistics queries. Methods follow the net/rpc signature rules.
type BossService struct {
	templates *services.TemplateService
}

func NewBossService(ts *services.TemplateService) *BossService {
	return &BossService{templates: ts}
}

type CreateTemplateArgs struct {
	Name             string
	Level            int
	MaxHP            int64
	RequiredLevel    int
	RewardMoney      int64
	RewardExp        int64
	RewardItems      []models.ItemDrop
	InstanceDuration time.Duration
}

type CreateTemplateReply struct {
	TemplateID string
}

func (bs *BossService) CreateTemplate(args *CreateTemplateArgs, reply *CreateTemplateReply) error {
	template, err := bs.templates.Create(&models.BossTemplate{
		Name:          args.Name,
		Level:         args.Level,
		MaxHP:         args.MaxHP,
		RequiredLevel: args.RequiredLevel,
		Rewards: models.BossRewards{
			Money: args.RewardMoney,
			Exp:   args.RewardExp,
			Items: args.RewardItems,
		},
		InstanceDuration: args.InstanceDuration,
	})
	if err != nil {
		return err
	}
	reply.TemplateID = template.ID
	return nil
}

type TemplateStatsArgs struct {
	TemplateID string
}

type TemplateStatsReply struct {
	Stats *models.BossTemplateStats
}

func (bs *BossService) GetTemplateStats(args *TemplateStatsArgs, reply *TemplateStatsReply) error {
	stats, err := bs.templates.Stats(args.TemplateID)
	if err != nil {
		return err
	}
	reply.Stats = stats
	return nil
}

type PlayerBossStatsArgs struct {
	UserID int64
}

type PlayerBossStatsReply struct {
	Stats map[string]*models.UserBossStats
}

func (bs *BossService) GetPlayerBossStats(args *PlayerBossStatsArgs, reply *PlayerBossStatsReply) error {
	stats, err := bs.templates.PlayerBossStats(args.UserID)
	if err != nil {
		return err
	}
	reply.Stats = stats
	return nil
}
