package rawecho

import (
	"github.com/sirupsen/logrus"
)

// handleTimer drives the idle/activity controller. A single cooperative
// timer is re-armed after every firing:
//
//   - no active connections: re-arm with the idle timeout; once idle
//     for a full timeout window, close the listener and stop re-arming
//     so the engine can drain to inactive.
//   - active connections and the sweep deadline passed: wake every
//     bound slot and re-arm with the wake interval.
//   - otherwise: plain re-arm with the wake interval.
//
// The controller only ever stops the intake of new work; process
// termination happens when the engine reports inactive.
func (s *Server) handleTimer() {
	now := s.engine.Now()
	delay := s.cfg.WakeInterval

	if s.connects == s.disconnects {
		delay = s.cfg.IdleTimeout
		if s.firstIdle.IsZero() {
			log.WithFields(logrus.Fields{
				"timeout": s.cfg.IdleTimeout,
			}).Info("idle detected, shutting down after timeout")
			s.firstIdle = now
		} else if now.Sub(s.firstIdle) >= s.cfg.IdleTimeout {
			s.closeAll(nil)
			return
		}
	} else if !now.Before(s.nextWake) {
		s.table.ForEachActive(func(slot *Slot) {
			slot.conn.Wake()
		})
		s.nextWake = now.Add(s.cfg.WakeInterval)
	}

	s.engine.SetTimer(delay)
}
