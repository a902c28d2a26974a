package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/tyuryaga/gameserver/auth"
	"github.com/tyuryaga/gameserver/logger"
	"github.com/tyuryaga/gameserver/models"
	"github.com/tyuryaga/gameserver/services"
)

// apiResponse is the uniform REST envelope.
type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func (s *GameServer) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/boss/instance/create", s.withAuth(s.handleCreateInstance))
	mux.HandleFunc("GET /api/boss/instance/active", s.withAuth(s.handleActiveInstance))
	mux.HandleFunc("GET /api/boss/instance/available", s.withAuth(s.handleAvailableInstances))
	mux.HandleFunc("GET /api/boss/instance/{id}", s.withAuth(s.handleGetInstance))
	mux.HandleFunc("POST /api/boss/instance/{id}/join", s.withAuth(s.handleJoinInstanceHTTP))
	mux.HandleFunc("DELETE /api/boss/instance/{id}", s.withAuth(s.handleDeleteInstance))
	mux.HandleFunc("POST /api/boss/instance/{id}/invite", s.withAuth(s.handleInvite))
	mux.HandleFunc("GET /api/boss/templates", s.withAuth(s.handleListTemplates))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, identity *auth.Identity)

func (s *GameServer) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.authenticator.Authenticate(bearerToken(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, apiResponse{Error: "unauthorized"})
			return
		}
		next(w, r, identity)
	}
}

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Log.Warnf("Failed to encode response: %v", err)
	}
}

func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, apiResponse{OK: true, Data: data})
}

// writeError maps service sentinels to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrAccessDenied), errors.Is(err, services.ErrInsufficientLevel):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, services.ErrUnavailable):
		status = http.StatusGone
	}
	if status == http.StatusInternalServerError {
		logger.Log.Errorf("Internal error: %v", err)
		writeJSON(w, status, apiResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, apiResponse{Error: err.Error()})
}

type createInstanceRequest struct {
	TemplateID string `json:"template_id"`
	IsPrivate  bool   `json:"is_private"`
}

func (s *GameServer) handleCreateInstance(w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "malformed request body"})
		return
	}

	inst, err := s.instanceService.Create(identity.UserID, req.TemplateID, req.IsPrivate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, inst)
}

func (s *GameServer) handleActiveInstance(w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	inst, err := s.instanceService.GetActive(identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, inst) // null when the user has no live instance
}

func (s *GameServer) handleAvailableInstances(w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	public, friendsPrivate, err := s.instanceService.ListAvailable(identity.UserID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string][]*models.BossInstance{
		"public":          public,
		"friends_private": friendsPrivate,
	})
}

func (s *GameServer) handleGetInstance(w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	inst, err := s.instanceService.Get(identity.UserID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, inst)
}

func (s *GameServer) handleJoinInstanceHTTP(w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	inst, err := s.instanceService.Join(identity.UserID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, inst)
}

func (s *GameServer) handleDeleteInstance(w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	if err := s.instanceService.Delete(identity.UserID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, nil)
}

type inviteRequest struct {
	FriendID int64 `json:"friend_id"`
}

func (s *GameServer) handleInvite(w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "malformed request body"})
		return
	}

	if err := s.instanceService.Invite(identity.UserID, r.PathValue("id"), req.FriendID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, nil)
}

func (s *GameServer) handleListTemplates(w http.ResponseWriter, r *http.Request, identity *auth.Identity) {
	templates, err := s.db.ListActiveTemplates()
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, templates)
}
