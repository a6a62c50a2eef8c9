package cascade

import (
	"context"
	"sync"

	"github.com/nenadatanasovski/taskcore/pkg/events"
	"github.com/nenadatanasovski/taskcore/pkg/log"
	"github.com/nenadatanasovski/taskcore/pkg/types"
	"github.com/rs/zerolog"
)

func triggerKindFromString(s string) types.CascadeTriggerKind {
	return types.CascadeTriggerKind(s)
}

// Listener wires a Propagator to the event broker: every task.edited
// event is analyzed and its auto-applicable effects applied immediately,
// mirroring how the failure engine consumes task.failed.
type Listener struct {
	propagator *Propagator
	broker     *events.Broker
	logger     zerolog.Logger

	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewListener builds a Listener over an existing Propagator and broker.
func NewListener(p *Propagator, broker *events.Broker) *Listener {
	return &Listener{
		propagator: p,
		broker:     broker,
		logger:     log.WithComponent("cascade"),
		stopped:    make(chan struct{}),
	}
}

func (l *Listener) Start() {
	sub := l.broker.Subscribe()
	l.wg.Add(1)
	go l.run(sub)
}

func (l *Listener) Stop() {
	close(l.stopped)
	l.wg.Wait()
}

func (l *Listener) run(sub events.Subscriber) {
	defer l.wg.Done()
	defer l.broker.Unsubscribe(sub)

	ctx := context.Background()
	for {
		select {
		case ev := <-sub:
			if ev.Type != events.EventTaskEdited {
				continue
			}
			l.handle(ctx, ev)
		case <-l.stopped:
			return
		}
	}
}

func (l *Listener) handle(ctx context.Context, ev *events.Event) {
	taskID := ev.Metadata["task_id"]
	trigger := ev.Metadata["trigger"]
	if taskID == "" || trigger == "" {
		return
	}

	source, err := l.propagator.store.GetTask(ctx, taskID)
	if err != nil || source == nil {
		return
	}

	report, err := l.propagator.Analyze(ctx, source, triggerKindFromString(trigger))
	if err != nil {
		l.logger.Error().Err(err).Str("task_id", taskID).Msg("cascade analysis failed")
		return
	}

	if err := l.propagator.Apply(ctx, report, false); err != nil {
		l.logger.Error().Err(err).Str("task_id", taskID).Msg("cascade apply failed")
		return
	}

	l.logger.Info().Str("task_id", taskID).Int("total_affected", report.TotalAffected).
		Int("auto_approvable", report.AutoApprovable).Int("requires_review", report.RequiresReview).
		Msg("cascade analysis applied")
}
