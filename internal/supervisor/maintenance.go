package supervisor

import (
	"github.com/robfig/cron/v3"
)

// StartMaintenance schedules periodic housekeeping: a pending-trade sweep
// that fails stale PENDING trades (spec §5: "FAILED if no execution
// arrives within 10s"), and a settings-file backup tick (spec §4.G). The
// prediction cache's own TTL is enforced lazily on lookup
// (internal/prediction/cache.go), so no separate sweep is needed for it.
//
// Uses robfig/cron/v3, the teacher's scheduling library, the way the
// broader retrieval pack uses it for periodic jobs.
func (s *Supervisor) StartMaintenance() *cron.Cron {
	c := cron.New()
	_, _ = c.AddFunc("@every 5s", s.pendingTradeSweep)
	_, _ = c.AddFunc("@every 5m", s.settingsBackupTick)
	c.Start()
	return c
}

// pendingTradeSweep expires stale PENDING trades on every instrument with
// a currently registered Host session.
func (s *Supervisor) pendingTradeSweep() {
	s.mu.Lock()
	instruments := make([]string, 0, len(s.sessionByInstrument))
	for instrument := range s.sessionByInstrument {
		instruments = append(instruments, instrument)
	}
	s.mu.Unlock()

	for _, instrument := range instruments {
		s.trades.ExpirePending(instrument)
	}
}

// settingsBackupTick writes a `.bak` copy of the current Settings file
// alongside the primary one, so a corrupted primary has a recent recovery
// copy to fall back to.
func (s *Supervisor) settingsBackupTick() {
	if err := s.settings.Backup(s.cfg.SettingsPath + ".bak"); err != nil {
		s.log.Warn().Err(err).Msg("settings backup tick failed")
	}
}
