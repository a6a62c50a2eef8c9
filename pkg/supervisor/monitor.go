package supervisor

import (
	"context"
	"time"

	"github.com/nenadatanasovski/taskcore/pkg/metrics"
)

// monitorLoop polls active workers every cfg.CheckInterval and terminates
// any that have gone silent for too long.
func (s *Supervisor) monitorLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkHeartbeats()
		case <-s.stopped:
			return
		}
	}
}

func (s *Supervisor) checkHeartbeats() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	workers, err := s.store.ListActiveWorkers(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list active workers for heartbeat check")
		return
	}

	for _, worker := range workers {
		if time.Since(worker.LastHeartbeatAt) < s.cfg.HeartbeatTimeout {
			continue
		}

		worker.MissedHeartbeats++
		metrics.MissedHeartbeatsTotal.Inc()

		if worker.MissedHeartbeats < s.cfg.MissedThreshold {
			if err := s.store.UpdateWorker(ctx, worker); err != nil {
				s.logger.Error().Err(err).Str("worker_id", worker.ID).Msg("record missed heartbeat")
			}
			continue
		}

		s.logger.Warn().
			Str("worker_id", worker.ID).
			Str("task_id", worker.TaskID).
			Int("missed_heartbeats", worker.MissedHeartbeats).
			Msg("terminating unresponsive worker")

		if err := s.Terminate(ctx, worker.ID, "heartbeat_timeout"); err != nil {
			s.logger.Error().Err(err).Str("worker_id", worker.ID).Msg("terminate unresponsive worker")
		}
	}
}
