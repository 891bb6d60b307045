// Package playground serves the lesson API: sessions, runs that may pause on
// input(), resumes, quiz credits and the chat-style WebSocket.
package playground

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codekids/pyquest/pkg/auth"
	"github.com/codekids/pyquest/pkg/celebrate"
	"github.com/codekids/pyquest/pkg/configuration"
	"github.com/codekids/pyquest/pkg/kiderrors"
	"github.com/codekids/pyquest/pkg/lessons"
	"github.com/codekids/pyquest/pkg/logger"
	"github.com/codekids/pyquest/pkg/minipy"
	"github.com/codekids/pyquest/pkg/runstore"
)

// maxCelebrationStates bounds the per-session picker map.
const maxCelebrationStates = 4096

// Server holds the shared state of the API handlers.
type Server struct {
	catalog  *lessons.Catalog
	store    *runstore.Store
	notifier lessons.RewardNotifier
	limiter  *rateLimiter
	upgrader websocket.Upgrader

	chatDelay func(*lessons.Lesson) time.Duration
	seed      func() int64

	mu           sync.Mutex
	celebrations map[string]*sessionCelebration
}

type sessionCelebration struct {
	state    *celebrate.State
	lastSeen time.Time
}

// RunResponse is the body of /api/run and /api/resume.
type RunResponse struct {
	Status      string                      `json:"status"`
	Output      []string                    `json:"output"`
	Prompt      string                      `json:"prompt,omitempty"`
	ResumeToken string                      `json:"resumeToken,omitempty"`
	Error       *kiderrors.KidFriendlyError `json:"error,omitempty"`
	Line        int                         `json:"line,omitempty"`
	Check       *lessons.CheckResult        `json:"check,omitempty"`
	Celebration string                      `json:"celebration,omitempty"`
}

// QuizResponse is the body of /api/quiz/complete.
type QuizResponse struct {
	Success     bool           `json:"success"`
	Reward      lessons.Reward `json:"reward"`
	Celebration string         `json:"celebration,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type runRequest struct {
	LessonID string `json:"lessonId"`
	Source   string `json:"source"`
}

type resumeRequest struct {
	ResumeToken string `json:"resumeToken"`
	Input       string `json:"input"`
}

type quizRequest struct {
	LessonID string `json:"lessonId"`
}

// NewServer creates the API. A nil notifier logs credits.
func NewServer(catalog *lessons.Catalog, store *runstore.Store, notifier lessons.RewardNotifier) *Server {
	if notifier == nil {
		notifier = lessons.LogNotifier{}
	}
	return &Server{
		catalog:      catalog,
		store:        store,
		notifier:     notifier,
		limiter:      newRateLimiter(configuration.GetInt("Server", "runs_per_minute", 120), time.Minute),
		chatDelay:    (*lessons.Lesson).ChatDelay,
		seed:         func() int64 { return time.Now().UnixNano() },
		celebrations: make(map[string]*sessionCelebration),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  configuration.GetInt("Network", "read_buffer_size", 4096),
			WriteBufferSize: configuration.GetInt("Network", "write_buffer_size", 4096),
			CheckOrigin:     checkOrigin,
		},
	}
}

// checkOrigin only lets configured browser origins open the chat socket.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logger.SecurityWarn("WebSocket request without Origin header rejected")
		return false
	}
	allowed := configuration.GetString("Network", "allowed_origins", "http://localhost:8080,http://127.0.0.1:8080")
	for _, candidate := range strings.Split(allowed, ",") {
		if strings.TrimSpace(candidate) == origin {
			return true
		}
	}
	logger.SecurityWarn("WebSocket request from disallowed origin rejected: %s", origin)
	return false
}

// Handler returns the routes of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", auth.HandleCreateSession)
	mux.HandleFunc("/api/session/validate", auth.HandleTokenValidation)
	mux.HandleFunc("/api/lessons", s.handleLessons)
	mux.HandleFunc("/api/lesson", s.handleLesson)
	mux.HandleFunc("/api/run", auth.RequireGuestToken(s.handleRun))
	mux.HandleFunc("/api/resume", auth.RequireGuestToken(s.handleResume))
	mux.HandleFunc("/api/quiz/complete", auth.RequireGuestToken(s.handleQuizComplete))
	mux.HandleFunc("/ws/chat", auth.RequireGuestToken(s.handleChat))
	return mux
}

func setCORSHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// preflight answers OPTIONS and rejects other methods than method.
// It returns false when the request has been handled.
func preflight(w http.ResponseWriter, r *http.Request, method string) bool {
	setCORSHeaders(w, method+", OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}
	if r.Method != method {
		respondWithError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn(logger.AreaGeneral, "could not write response: %v", err)
	}
}

func respondWithError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Success: false, Message: message})
}

// decodeBody reads a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	limit := int64(configuration.GetInt("Server", "max_request_kb", 64)) * 1024
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.Summaries())
}

func (s *Server) handleLesson(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	lesson, err := s.catalog.Get(r.URL.Query().Get("id"))
	if err != nil {
		respondWithError(w, "Lesson not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, lesson)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodPost) {
		return
	}
	sessionID, _ := auth.GetSessionIDFromContext(r.Context())
	if !s.limiter.Allow(auth.ClientIP(r)) {
		logger.SecurityWarn("run rate limit exceeded for %s", auth.ClientIP(r))
		respondWithError(w, "Too many runs, take a short break", http.StatusTooManyRequests)
		return
	}

	var req runRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, err.Error(), http.StatusBadRequest)
		return
	}
	lesson, err := s.catalog.Get(req.LessonID)
	if err != nil {
		respondWithError(w, "Lesson not found", http.StatusNotFound)
		return
	}

	res := lesson.Interpreter().Run(req.Source)
	logger.Info(logger.AreaLessons, "session %s ran %s: %s", sessionID, lesson.ID, res.Status)
	resp, err := s.respond(r.Context(), sessionID, lesson, res)
	if err != nil {
		logger.Error(logger.AreaLessons, "could not answer run for session %s: %v", sessionID, err)
		respondWithError(w, "Could not store the paused program", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodPost) {
		return
	}
	sessionID, _ := auth.GetSessionIDFromContext(r.Context())
	if !s.limiter.Allow(auth.ClientIP(r)) {
		respondWithError(w, "Too many runs, take a short break", http.StatusTooManyRequests)
		return
	}

	var req resumeRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, err.Error(), http.StatusBadRequest)
		return
	}
	claims, err := auth.ValidateResumeToken(req.ResumeToken)
	if err != nil {
		logger.SecurityWarn("invalid resume token from session %s: %v", sessionID, err)
		respondWithError(w, "Invalid resume token", http.StatusUnauthorized)
		return
	}
	if claims.SessionID != sessionID {
		logger.SecurityWarn("session %s tried to resume a run of session %s", sessionID, claims.SessionID)
		respondWithError(w, "This program belongs to another session", http.StatusForbidden)
		return
	}

	run, err := s.store.Take(r.Context(), claims.RunID)
	if errors.Is(err, runstore.ErrNotFound) {
		respondWithError(w, "This question was already answered or has expired", http.StatusGone)
		return
	}
	if err != nil {
		logger.DatabaseError("could not load run %s: %v", claims.RunID, err)
		respondWithError(w, "Could not load the paused program", http.StatusInternalServerError)
		return
	}
	lesson, err := s.catalog.Get(run.LessonID)
	if err != nil {
		respondWithError(w, "Lesson not found", http.StatusNotFound)
		return
	}

	res, err := lesson.Interpreter().Resume(run.Suspension, req.Input)
	if err != nil {
		logger.Warn(logger.AreaLessons, "run %s could not be resumed: %v", run.ID, err)
		respondWithError(w, "The paused program cannot continue", http.StatusConflict)
		return
	}
	resp, err := s.respond(r.Context(), sessionID, lesson, res)
	if err != nil {
		logger.Error(logger.AreaLessons, "could not answer resume for session %s: %v", sessionID, err)
		respondWithError(w, "Could not store the paused program", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// respond builds the API answer for a result, storing the suspension of a
// waiting run and signing a resume token for it.
func (s *Server) respond(ctx context.Context, sessionID string, lesson *lessons.Lesson, res *minipy.Result) (*RunResponse, error) {
	resp := &RunResponse{Status: string(res.Status), Output: res.Output}
	if resp.Output == nil {
		resp.Output = []string{}
	}

	switch res.Status {
	case minipy.StatusWaiting:
		ttl := auth.ResumeTokenLifetime()
		runID, err := s.store.Save(ctx, sessionID, lesson.ID, res.Suspension, ttl)
		if err != nil {
			return nil, err
		}
		token, err := auth.GenerateResumeToken(sessionID, runID, ttl)
		if err != nil {
			s.store.Delete(ctx, runID)
			return nil, err
		}
		resp.Prompt = res.Prompt
		resp.ResumeToken = token
	case minipy.StatusFailed:
		resp.Error = res.Error
		if res.Failure != nil {
			resp.Line = res.Failure.Line
		}
	case minipy.StatusFinished:
		check := lessons.Check(lesson, res)
		resp.Check = &check
		if check.Passed {
			resp.Celebration = s.celebrate(sessionID, celebrate.KindRunPassed)
		}
	}
	return resp, nil
}

func (s *Server) handleQuizComplete(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodPost) {
		return
	}
	sessionID, _ := auth.GetSessionIDFromContext(r.Context())

	var req quizRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, err.Error(), http.StatusBadRequest)
		return
	}
	lesson, err := s.catalog.Get(req.LessonID)
	if err != nil {
		respondWithError(w, "Lesson not found", http.StatusNotFound)
		return
	}
	if err := s.notifier.Credit(r.Context(), sessionID, lesson.ID, lesson.Reward); err != nil {
		logger.Error(logger.AreaRewards, "credit for session %s failed: %v", sessionID, err)
		respondWithError(w, "Could not record the reward", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, QuizResponse{
		Success:     true,
		Reward:      lesson.Reward,
		Celebration: s.celebrate(sessionID, celebrate.KindQuizComplete),
	})
}

// celebrate picks a message from the session's own picker.
func (s *Server) celebrate(sessionID string, kind celebrate.Kind) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.celebrations[sessionID]
	if !ok {
		if len(s.celebrations) >= maxCelebrationStates {
			s.evictOldestLocked()
		}
		entry = &sessionCelebration{state: celebrate.NewState(s.seed())}
		s.celebrations[sessionID] = entry
	}
	entry.lastSeen = now
	return entry.state.Pick(kind)
}

func (s *Server) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, entry := range s.celebrations {
		if oldestID == "" || entry.lastSeen.Before(oldest) {
			oldestID, oldest = id, entry.lastSeen
		}
	}
	delete(s.celebrations, oldestID)
}
