package supervisor

import (
	"context"
	"time"

	"github.com/aristath/tradebridge/internal/hostsession"
	"github.com/aristath/tradebridge/internal/market"
)

// Shutdown runs the graceful shutdown sequence (spec §3, §4.H):
// 1. stop accepting new connections
// 2. send connection_status:shutdown to every subscriber
// 3. wait up to ShutdownPredictionWait for in-flight predictions
// 4. close Host sessions
// 5. drain Subscriber queues up to ShutdownSubscriberWait
// 6. persist Settings (already durable after every Update; re-read here
//    only to log the final state for operators)
// 7. exit (the caller, cmd/server/main.go, returns after this call)
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.log.Info().Msg("graceful shutdown starting")

	s.mu.Lock()
	s.shuttingDown = true
	if s.hostListener != nil {
		_ = s.hostListener.Close()
	}
	s.mu.Unlock()

	s.hub.Emit(market.ChannelConnectionStatus, map[string]any{"status": "shutdown"})

	predictionsDone := make(chan struct{})
	go func() {
		s.inFlightPredictions.Wait()
		close(predictionsDone)
	}()
	select {
	case <-predictionsDone:
	case <-time.After(s.cfg.ShutdownPredictionWait):
		s.log.Warn().Msg("shutdown: in-flight predictions did not finish within deadline")
	}

	s.mu.Lock()
	toClose := make([]*hostsession.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		toClose = append(toClose, sess)
	}
	s.mu.Unlock()
	for _, sess := range toClose {
		sess.Close("shutdown")
	}

	s.hub.DrainDeadline(ctx, s.cfg.ShutdownSubscriberWait)

	s.log.Info().Interface("settings", s.settings.Get()).Msg("shutdown: final settings state persisted")
	s.log.Info().Msg("graceful shutdown complete")
}
