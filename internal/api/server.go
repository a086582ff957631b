// Package api wires the realtime core to its HTTP surface: the websocket
// upgrade endpoint, health and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mundotango/realtime/internal/config"
	"github.com/mundotango/realtime/internal/realtime"
	"github.com/mundotango/realtime/internal/stats"
)

type Server struct {
	log        zerolog.Logger
	rt         *realtime.Server
	srv        *http.Server
	signingKey []byte
	upgrader   websocket.Upgrader
}

func NewServer(logger zerolog.Logger, rt *realtime.Server, st *stats.PromStats, cfg *config.Config) *Server {
	s := &Server{
		log:        logger.With().Str("component", "api").Logger(),
		rt:         rt,
		signingKey: cfg.SigningKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /metrics", st.Handler())

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.loggingMiddleware(h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}
	return s
}

// Handler exposes the composed handler, used by httptest servers.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// serveWs upgrades the connection and hands it to the realtime core. The
// identity attached to the session comes from a verified token when one
// is presented, otherwise from the client-supplied hint.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	userID, displayName, err := s.identity(r)
	if err != nil {
		s.log.Warn().Err(err).Msg("rejecting websocket: bad token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := realtime.NewClient(s.rt.NewConnID(), userID, displayName, conn, s.rt, s.log)
	s.rt.RegisterChan <- client

	go client.Write()
	go client.Read()
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
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
