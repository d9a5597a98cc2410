package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gammazero/workerpool"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/tarotobot/asr"
	"github.com/room4-2/tarotobot/config"
	"github.com/room4-2/tarotobot/messages"
	"github.com/room4-2/tarotobot/session"
)

// translationWorkers bounds concurrent outbound translation calls
const translationWorkers = 6

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	speech         *asr.Proxy
	services       Services
	pool           *workerpool.WorkerPool
	config         *config.Config
	log            *logrus.Entry
}

func NewServer(cfg *config.Config, sessionManager *session.Manager, services Services, log *logrus.Entry) *Server {
	s := &Server{
		sessionManager: sessionManager,
		speech:         asr.NewProxy(cfg.Iflytek, log.WithField("component", "asr")),
		services:       services,
		pool:           workerpool.New(translationWorkers),
		config:         cfg,
		log:            log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   16 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || cfg.OriginAllowed(origin)
			},
		},
	}

	// Long LLM and TTS calls rule out a server-wide write timeout.
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Handler returns the complete HTTP handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws/text_input", s.handleTextInput)
	mux.HandleFunc("GET /ws/bridge", s.handleBridge)
	mux.HandleFunc("GET /ws/asr", s.handleASR)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/push_text", s.handlePushText)
	mux.HandleFunc("POST /api/process_input", s.handleProcessInput)
	mux.HandleFunc("GET /api/precards", s.handlePreCards)
	mux.HandleFunc("POST /api/divine", s.handleDivine)
	mux.HandleFunc("GET /api/audio/{id}", s.handleAudio)

	s.registerStatic(mux)

	return s.recoverer(s.cors().Handler(mux))
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.log.WithField("port", s.config.Port).Info("server starting")
	s.log.Infof("websocket endpoints: ws://localhost:%d/ws/text_input, /ws/bridge, /ws/asr", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	s.sessionManager.Shutdown()
	err := s.httpServer.Shutdown(ctx)
	s.pool.StopWait()
	return err
}

// Close releases resources held by a server that was never started
func (s *Server) Close() {
	s.pool.StopWait()
}

func (s *Server) handleTextInput(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := session.NewClient(conn, s.config.WriteQueueSize, s.config.KeepAlivePeriod)
	log := s.log.WithFields(logrus.Fields{"channel": "text_input", "client": client.ShortID()})

	s.sessionManager.AddBrowser(client)
	log.WithField("browsers", s.sessionManager.BrowserCount()).Info("browser connected")

	defer func() {
		s.sessionManager.RemoveBrowser(client)
		_ = client.Close()
		log.WithField("browsers", s.sessionManager.BrowserCount()).Info("browser disconnected")
	}()

	for {
		messageType, data, err := client.ReadMessage()
		if err != nil {
			logDisconnect(log, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg messages.ControlMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			log.WithError(err).Debug("ignoring malformed control frame")
			continue
		}
		if msg.Command != messages.CommandStart {
			continue
		}

		reply := messages.StatusNoDevice
		if s.sessionManager.SendStartToBridge() {
			reply = messages.StatusStartSent
		}
		if err := client.Send(reply); err != nil {
			log.WithError(err).Debug("failed to queue reply")
			return
		}
	}
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := session.NewClient(conn, s.config.WriteQueueSize, s.config.KeepAlivePeriod)
	log := s.log.WithFields(logrus.Fields{"channel": "bridge", "client": client.ShortID()})

	s.sessionManager.SetBridge(client)
	log.Info("bridge connected")

	defer func() {
		if s.sessionManager.ClearBridge(client) {
			log.Info("bridge disconnected")
		} else {
			log.Info("displaced bridge disconnected")
		}
		_ = client.Close()
	}()

	// Inbound frames are heartbeats only.
	for {
		if _, _, err := client.ReadMessage(); err != nil {
			logDisconnect(log, err)
			return
		}
	}
}

func (s *Server) handleASR(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	s.speech.Serve(r.Context(), conn)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messages.HealthResponse{
		Status:   "ok",
		Browsers: s.sessionManager.BrowserCount(),
		Bridge:   s.sessionManager.HasBridge(),
	})
}

func logDisconnect(log *logrus.Entry, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
		!errors.Is(err, net.ErrClosed) {
		log.WithError(err).Debug("read ended unexpectedly")
		return
	}
	log.Debug("peer closed connection")
}
