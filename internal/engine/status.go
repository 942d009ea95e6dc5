package engine

import (
	"context"
	"sort"

	"github.com/mucstudio/let-monitor/pkg/models"
)

// Status returns a snapshot of the monitor
func (e *Engine) Status() models.Status {
	failing := e.scheduler.Failing()

	e.mu.RLock()
	defer e.mu.RUnlock()

	status := models.Status{
		StartedAt: e.startedAt,
		Uptime:    e.clock.Now().Sub(e.startedAt),
		Targets:   len(e.targets),
	}
	for _, t := range e.targets {
		if t.Enabled {
			status.Enabled++
		}
	}
	for id, state := range failing {
		t, ok := e.targets[id]
		if !ok {
			continue
		}
		ft := models.FailingTarget{
			TargetID:            id,
			ForumUsername:       t.ForumUsername,
			ConsecutiveFailures: state.ConsecutiveFailures,
			NextAttemptAt:       state.NextAttemptAt,
		}
		if state.LastError != nil {
			ft.LastError = state.LastError.Error()
		}
		status.Failing = append(status.Failing, ft)
	}
	sort.Slice(status.Failing, func(i, j int) bool {
		return status.Failing[i].TargetID < status.Failing[j].TargetID
	})
	return status
}

// ReportStatus sends the current status to the given chats, or to the
// admin chats when none are given
func (e *Engine) ReportStatus(ctx context.Context, chatIDs []int64) error {
	return e.alerts.NotifyStatus(ctx, chatIDs, e.Status())
}
