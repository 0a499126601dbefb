// Package supervisor implements the Supervisor (spec §4.H): it owns every
// other component's lifecycle, routes messages between them through direct
// method calls (it implements hostsession.Dispatcher and
// subscriberhub.RPCHandler; there are no inter-component channels), exposes
// health/metrics, and drives graceful shutdown.
//
// Grounded on the teacher's cmd/server/main.go (construction and shutdown
// ordering) and internal/server/server.go (chi router/middleware setup).
package supervisor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradebridge/internal/hostsession"
	"github.com/aristath/tradebridge/internal/market"
	"github.com/aristath/tradebridge/internal/prediction"
	"github.com/aristath/tradebridge/internal/settings"
	"github.com/aristath/tradebridge/internal/store"
	"github.com/aristath/tradebridge/internal/subscriberhub"
	"github.com/aristath/tradebridge/internal/trademanager"
	"github.com/aristath/tradebridge/internal/trailing"
)

// Config bundles every component-level config the Supervisor needs to
// build its children (spec §6 configuration surface).
type Config struct {
	HostPort               int
	DashboardPort          int
	SettingsPath           string
	MinConfidenceDefault   float64
	AutoTradeDefault       bool
	SubscriberQueueCap     int
	PredictionGatewayCfg   prediction.Config
	TrailingCfg            trailing.Config
	HostHeartbeatTimeout   time.Duration
	ShutdownPredictionWait time.Duration
	ShutdownSubscriberWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShutdownPredictionWait <= 0 {
		c.ShutdownPredictionWait = 5 * time.Second
	}
	if c.ShutdownSubscriberWait <= 0 {
		c.ShutdownSubscriberWait = 2 * time.Second
	}
	return c
}

// Supervisor is the Supervisor component (spec §4.H).
type Supervisor struct {
	log zerolog.Logger
	cfg Config

	predictor prediction.Predictor
	gateway   *prediction.Gateway
	trades    *trademanager.Manager
	trailingC *trailing.Controller
	settings  *settings.Store
	hub       *subscriberhub.Hub
	durable   store.Store

	hostListener net.Listener

	mu           sync.Mutex
	sessions     map[string]*hostsession.Session
	sessionByInstrument map[string]*hostsession.Session
	statusSeen   map[string]bool
	shuttingDown bool

	inFlightPredictions sync.WaitGroup

	startedAt time.Time
}

// New builds a Supervisor and all of its child components; it does not
// start accepting connections until AcceptHost is called.
func New(log zerolog.Logger, cfg Config, predictor prediction.Predictor, durable store.Store) (*Supervisor, error) {
	cfg = cfg.withDefaults()
	sup := &Supervisor{
		log:                 log.With().Str("component", "supervisor").Logger(),
		cfg:                 cfg,
		predictor:           predictor,
		trailingC:           trailing.New(cfg.TrailingCfg),
		durable:             durable,
		sessions:            make(map[string]*hostsession.Session),
		sessionByInstrument: make(map[string]*hostsession.Session),
		startedAt:           time.Now(),
	}
	sup.gateway = prediction.New(log, predictor, cfg.PredictionGatewayCfg)
	sup.trades = trademanager.New(log, sup, market.DefaultPointValueTable())
	sup.hub = subscriberhub.New(log, cfg.SubscriberQueueCap, sup)

	settingsStore, err := settings.New(log, cfg.SettingsPath, market.Settings{
		MinConfidence:      cfg.MinConfidenceDefault,
		AutoTradingEnabled: cfg.AutoTradeDefault,
	}, sup)
	if err != nil {
		return nil, fmt.Errorf("supervisor: init settings: %w", err)
	}
	sup.settings = settingsStore

	return sup, nil
}

// Hub exposes the Subscriber Hub for HTTP route wiring (ServeWS).
func (s *Supervisor) Hub() *subscriberhub.Hub { return s.hub }

// AcceptHost runs the Host TCP accept loop until ctx is cancelled or the
// listener is closed by Shutdown.
func (s *Supervisor) AcceptHost(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("supervisor: listen host: %w", err)
	}
	s.hostListener = ln
	s.log.Info().Str("addr", addr).Msg("host link listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.mu.Lock()
			down := s.shuttingDown
			s.mu.Unlock()
			if down {
				return nil
			}
			s.log.Warn().Err(err).Msg("host accept error")
			continue
		}

		s.mu.Lock()
		rejecting := s.shuttingDown
		s.mu.Unlock()
		if rejecting {
			conn.Close()
			continue
		}

		session := hostsession.New(conn, s.log, s, s.cfg.HostHeartbeatTimeout)
		s.mu.Lock()
		s.sessions[session.ID] = session
		s.mu.Unlock()
		go session.Start()
	}
}

// Uptime returns how long the Supervisor has been running.
func (s *Supervisor) Uptime() time.Duration { return time.Since(s.startedAt) }

// SessionCount returns the number of currently open Host sessions.
func (s *Supervisor) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
