package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/vbus/internal/audit"
	"github.com/nerrad567/vbus/internal/bus"
	"github.com/nerrad567/vbus/internal/hotplug"
	"github.com/nerrad567/vbus/internal/infrastructure/config"
	"github.com/nerrad567/vbus/internal/infrastructure/logging"
	"github.com/nerrad567/vbus/internal/journal"
	"github.com/nerrad567/vbus/internal/uevent"
)

// gracefulShutdownTimeout bounds the wait for in-flight requests on Close.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by infrastructure clients reported on
// /api/v1/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Hotplugger plugs and unplugs devices on request.
type Hotplugger interface {
	Apply(action hotplug.Action, device string) (bus.Registration, error)
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Bus      *bus.Bus

	// Optional.
	Channel *uevent.Channel
	Journal journal.Repository
	Audit   audit.Repository
	Hotplug Hotplugger
	Checks  map[string]HealthChecker
	Queues  []QueueStats
	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	bus       *bus.Bus
	channel   *uevent.Channel
	journal   journal.Repository
	hotplug   Hotplugger
	checks    map[string]HealthChecker
	queues    []QueueStats
	version   string
	startTime time.Time

	hub    *Hub
	server *http.Server

	auditRepo audit.Repository
	auditCh   chan *audit.Entry
	auditWG   sync.WaitGroup

	mu          sync.Mutex
	addr        string
	cancel      context.CancelFunc
	unsubscribe func()
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Bus == nil {
		return nil, errors.New("bus is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger.Component("api"),
		bus:       deps.Bus,
		channel:   deps.Channel,
		journal:   deps.Journal,
		hotplug:   deps.Hotplug,
		checks:    deps.Checks,
		queues:    deps.Queues,
		version:   deps.Version,
		startTime: time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	if deps.Audit != nil {
		s.auditRepo = deps.Audit
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	return s, nil
}

// Handler returns the router. Exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start starts the WebSocket hub, relays bus uevents to it and begins
// listening in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	if s.auditRepo != nil {
		s.auditWG.Add(1)
		go func() {
			defer s.auditWG.Done()
			s.drainAuditLog(srvCtx)
		}()
	}

	var unsubscribe func()
	if s.channel != nil {
		unsubscribe = s.channel.Subscribe(s.hub.BroadcastEvent)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.cancel = cancel
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String())
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close stops the uevent relay, shuts the listener down waiting up to 10
// seconds for in-flight requests, then stops the hub and flushes the
// audit log.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	s.mu.Lock()
	unsubscribe, stop := s.unsubscribe, s.cancel
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	shutdownErr := s.server.Shutdown(ctx)

	if stop != nil {
		stop()
	}
	s.auditWG.Wait()

	if shutdownErr != nil {
		return fmt.Errorf("shutting down API server: %w", shutdownErr)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
