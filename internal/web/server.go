package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/download"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/session"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	sessions   *session.Manager
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	startedAt  time.Time
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type QualityRequest struct {
	Quality int `json:"quality"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// wsInbound is what a client may send over the socket.
type wsInbound struct {
	Type    string `json:"type"`
	Quality int    `json:"quality"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, sessions *session.Manager) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		sessions:  sessions,
		router:    mux.NewRouter(),
		startedAt: time.Now(),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(cfg.Server.AllowedOrigins),
		},
	}

	s.setupRoutes()
	return s
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/source", s.handleSetSource).Methods("PUT")
	api.HandleFunc("/sessions/{id}/quality", s.handleSetQuality).Methods("PUT")
	api.HandleFunc("/sessions/{id}/download", s.handleDownload).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	defer s.sessions.CloseAll()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	c := s.cfg.Compression
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"sessions":       s.sessions.Len(),
			"busy_sessions":  s.sessions.Busy(),
			"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
			"defaults": map[string]interface{}{
				"max_edge_pixels":   c.MaxEdgePixels,
				"max_output_bytes":  c.MaxOutputBytes,
				"initial_quality":   c.InitialQuality,
				"download_filename": c.DownloadFilename,
			},
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	stats := s.sessions.Statistics()
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":  stats.GetSummary(),
			"counters": stats.Snapshot(),
		},
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	logger.WithSession(s.log, sess.ID()).Info("Session created")

	s.writeJSONStatus(w, http.StatusCreated, APIResponse{
		Success: true,
		Message: "Session created",
		Data:    sess.View(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: sess.View()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sessions.Delete(id); err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Session deleted"})
}

func (s *Server) handleSetSource(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, fmt.Sprintf("Image exceeds %d bytes", s.cfg.Server.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		s.writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := sess.SetSource(data); err != nil {
		s.writeSessionError(w, err)
		return
	}

	s.writeJSONStatus(w, http.StatusAccepted, APIResponse{
		Success: true,
		Message: "Compression started",
		Data:    sess.View(),
	})
}

func (s *Server) handleSetQuality(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req QualityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := sess.SetQuality(req.Quality); err != nil {
		s.writeSessionError(w, err)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Quality updated",
		Data:    sess.View(),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	res := sess.Result()
	if res == nil {
		s.writeError(w, "No compressed image available", http.StatusNotFound)
		return
	}

	etag := download.ETag(res.Output)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Output)))
	w.Header().Set("Content-Disposition", download.ContentDisposition(s.cfg.Compression.DownloadFilename))
	w.Header().Set("ETag", etag)
	if _, err := w.Write(res.Output); err != nil {
		logger.WithSession(s.log, sess.ID()).Errorf("Failed to write download: %v", err)
	}
}

// wsOutboxSize bounds the messages queued for one socket. When a peer falls
// behind, the oldest queued message is dropped in favour of the newest.
const wsOutboxSize = 16

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.URL.Query().Get("session"))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log := logger.WithSession(s.log, sess.ID())
	log.Debug("WebSocket client connected")

	out := make(chan WSMessage, wsOutboxSize)
	done := make(chan struct{})
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		for {
			select {
			case msg := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					log.Debugf("Failed to write WebSocket message: %v", err)
				}
			case <-done:
				return
			}
		}
	}()

	var sendMu sync.Mutex
	send := func(msg WSMessage) {
		sendMu.Lock()
		defer sendMu.Unlock()
		for {
			select {
			case out <- msg:
				return
			default:
			}
			select {
			case <-out:
				log.Debug("WebSocket client is slow, dropped oldest message")
			default:
			}
		}
	}

	unsubscribe := sess.Subscribe(func(ev session.Event) {
		send(WSMessage{Type: string(ev.Type), Data: ev})
	})
	defer func() {
		unsubscribe()
		close(done)
		writerWG.Wait()
		log.Debug("WebSocket client disconnected")
	}()

	send(WSMessage{Type: "session_state", Data: sess.View()})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg wsInbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			send(WSMessage{Type: "error", Data: "invalid message"})
			continue
		}

		switch msg.Type {
		case "quality":
			if err := sess.SetQuality(msg.Quality); err != nil {
				send(WSMessage{Type: "error", Data: err.Error()})
			}
		case "recompress":
			if err := sess.Recompress(); err != nil {
				send(WSMessage{Type: "error", Data: err.Error()})
			}
		case "state":
			send(WSMessage{Type: "session_state", Data: sess.View()})
		default:
			send(WSMessage{Type: "error", Data: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, compressor.ErrInvalidQuality), errors.Is(err, session.ErrNoSource):
		s.writeError(w, err.Error(), http.StatusBadRequest)
	default:
		s.writeError(w, err.Error(), http.StatusConflict)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
