package notes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voicenotes/internal/metrics"
	"voicenotes/internal/ports"
)

const maxBodyBytes = 1 << 20

// Server routes the note service endpoints.
type Server struct {
	store     *Store
	generator ports.NoteGenerator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	mux       *http.ServeMux
}

func NewServer(store *Store, generator ports.NoteGenerator, m *metrics.Metrics, logger *slog.Logger) *Server {
	if generator == nil {
		generator = EchoGenerator{}
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:     store,
		generator: generator,
		metrics:   m,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /register", s.withMetrics("/register", s.handleRegister))
	s.mux.HandleFunc("POST /login", s.withMetrics("/login", s.handleLogin))
	s.mux.HandleFunc("POST /notes", s.withMetrics("/notes", s.handleCreateNote))
	s.mux.HandleFunc("GET /notes", s.withMetrics("/notes", s.handleListNotes))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createNoteRequest struct {
	Transcript string `json:"transcript"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.store.Register(req.Username, req.Password)
	switch {
	case errors.Is(err, ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("register failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not save user")
		return
	}

	s.metrics.UsersRegistered.Inc()
	s.logger.Info("user registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"id": user.ID, "username": user.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decode(w, r, &req) {
		return
	}

	token, err := s.store.Login(req.Username, req.Password)
	if err != nil {
		s.metrics.LoginFailures.Inc()
		writeError(w, http.StatusUnauthorized, ErrInvalidCredentials.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req createNoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, http.StatusBadRequest, "transcript is required")
		return
	}

	start := time.Now()
	text, err := s.generator.Generate(r.Context(), req.Transcript)
	s.metrics.RecordNoteGeneration(time.Since(start).Seconds(), err)
	if err != nil {
		s.logger.Error("note generation failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusBadGateway, "note generation failed")
		return
	}

	note, err := s.store.AddNote(user.ID, req.Transcript, text)
	if err != nil {
		s.logger.Error("saving note failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not save note")
		return
	}
	s.metrics.NotesCreated.Inc()
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.store.NotesFor(user.ID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if err := s.store.Ready(); err != nil {
		s.logger.Warn("notes document not readable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (User, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		writeError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
		return User{}, false
	}
	user, err := s.store.Authenticate(strings.TrimSpace(token))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return User{}, false
	}
	return user, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

// withMetrics wraps a handler with request metrics and an access log line.
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(start)
		s.metrics.RecordHTTPRequest(r.Method, endpoint, ww.statusCode, duration.Seconds())
		s.logger.Debug("request handled",
			"method", r.Method,
			"path", endpoint,
			"status", ww.statusCode,
			"duration", duration,
		)
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
