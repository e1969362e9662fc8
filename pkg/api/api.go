// Package api is the HTTP query surface next to the realtime gateway:
// account registration and login, the leaderboard, per-player history, and
// replay retrieval. Responses are JSON; failures carry a success flag and a
// message the browser client shows as-is.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/opd-ai/go-astroduel/pkg/logging"
	"github.com/opd-ai/go-astroduel/pkg/store"
	"github.com/opd-ai/go-astroduel/pkg/validation"
)

// Server holds the API's dependencies and mounts its routes.
type Server struct {
	store  *store.Store
	logger *logging.Logger
}

// NewServer creates the API server over the given store.
func NewServer(st *store.Store, logger *logging.Logger) *Server {
	return &Server{store: st, logger: logger}
}

// Routes returns the fully mounted handler, CORS and timing included.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.timed("register", s.handleRegister))
	mux.HandleFunc("POST /login", s.timed("login", s.handleLogin))
	mux.HandleFunc("GET /highscores", s.timed("highscores", s.handleHighScores))
	mux.HandleFunc("GET /personalbest", s.timed("personalbest", s.handlePersonalBest))
	mux.HandleFunc("GET /getusergames", s.timed("usergames", s.handleUserGames))
	mux.HandleFunc("GET /getgamedata", s.timed("gamedata", s.handleGameData))
	mux.HandleFunc("POST /creategamerecord", s.timed("creategamerecord", s.handleCreateGameRecord))
	return corsMiddleware(mux)
}

// corsMiddleware opens the API to browser clients on any origin. The game
// client is served from a separate static host.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// timed records how long each named endpoint takes. Samples go to the store
// off the request path; a failed sample is invisible to the caller.
func (s *Server) timed(action string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h(w, r)
		elapsed := time.Since(start)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.store.LogActionTime(ctx, action, elapsed); err != nil {
				s.logger.Debug(ctx, "failed to log action time", "action", action, "error", err.Error())
			}
		}()
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	username, err := validation.ValidateUsername(req.Username)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.store.CreateUser(r.Context(), username, req.Password)
	if errors.Is(err, store.ErrUsernameTaken) {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}
	if err != nil {
		s.logger.Error(r.Context(), "registration failed", err, "username", username)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"userId":   id,
		"username": username,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.store.IsValidUser(r.Context(), req.Username, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		s.logger.Error(r.Context(), "login failed", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"userId":   id,
		"username": req.Username,
	})
}

func (s *Server) handleHighScores(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	scores, err := s.store.GetTopHighScores(r.Context(), limit)
	if err != nil {
		s.logger.Error(r.Context(), "leaderboard query failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	if scores == nil {
		scores = []store.HighScore{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "highScores": scores})
}

func (s *Server) handlePersonalBest(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeError(w, http.StatusBadRequest, "missing username")
		return
	}

	score, err := s.store.GetUserHighScore(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	if err != nil {
		s.logger.Error(r.Context(), "personal best query failed", err, "username", username)
		writeError(w, http.StatusInternalServerError, "failed to load personal best")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "highestScore": score})
}

func (s *Server) handleUserGames(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid userId")
		return
	}

	games, err := s.store.GetUserGames(r.Context(), userID)
	if err != nil {
		s.logger.Error(r.Context(), "game history query failed", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to load game history")
		return
	}
	if games == nil {
		games = []store.GameSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "games": games})
}

func (s *Server) handleGameData(w http.ResponseWriter, r *http.Request) {
	gameID, err := strconv.ParseInt(r.URL.Query().Get("gameId"), 10, 64)
	if err != nil || gameID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid gameId")
		return
	}

	replay, err := s.store.GetReplay(r.Context(), gameID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no replay for that game")
		return
	}
	if err != nil {
		s.logger.Error(r.Context(), "replay query failed", err, "game_id", gameID)
		writeError(w, http.StatusInternalServerError, "failed to load replay")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"gameId":  gameID,
		"replay":  json.RawMessage(replay),
	})
}

// handleCreateGameRecord inserts a match record directly. Finished rooms
// persist themselves; this exists for external tooling and backfills.
func (s *Server) handleCreateGameRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID1 int64 `json:"userId1"`
		UserID2 int64 `json:"userId2"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID1 < 0 || req.UserID2 < 0 || (req.UserID1 == 0 && req.UserID2 == 0) {
		writeError(w, http.StatusBadRequest, "at least one registered user id required")
		return
	}

	gameID, err := s.store.CreateGameRecord(r.Context(), req.UserID1, req.UserID2)
	if err != nil {
		s.logger.Error(r.Context(), "game record insert failed", err)
		writeError(w, http.StatusInternalServerError, "failed to create game record")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "gameId": gameID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
