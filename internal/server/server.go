package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/pvheat/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
)

const DEFAULT_REQUEST_TIMEOUT = 10 * time.Second

type Server struct {
	port           uint
	httpLog        bool
	requestTimeout time.Duration
	rootContext    *actor.RootContext
	masterActor    *actor.PID
	gatherer       prometheus.Gatherer
}

// NewServer builds the HTTP control surface. Every request is forwarded to
// masterActor. A nil gatherer exposes the default prometheus registry.
func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, gatherer prometheus.Gatherer) *http.Server {
	NewServer := newServer(cfg, rootContext, masterActor, gatherer)

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: NewServer.requestTimeout + 20*time.Second,
	}

	return server
}

func newServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	timeout := cfg.Manager.StatusTimeout() + 2*time.Second
	if cfg.Manager.StatusTimeoutMillis == 0 {
		timeout = DEFAULT_REQUEST_TIMEOUT
	}
	return &Server{
		port:           cfg.Port,
		httpLog:        cfg.HttpLog,
		requestTimeout: timeout,
		rootContext:    rootContext,
		masterActor:    masterActor,
		gatherer:       gatherer,
	}
}
