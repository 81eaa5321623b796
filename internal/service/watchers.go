package service

import (
	"github.com/liapostsk/aeghis-sync/internal/metrics"
	"github.com/liapostsk/aeghis-sync/internal/storage"
)

// countingCancel decrements the active-watcher gauge for kind when the
// subscription is cancelled. The matching increment happens at the call
// site, right after the watch opens.
func countingCancel[T any](sub *storage.Subscription[T], kind string) *storage.Subscription[T] {
	sub.OnCancel(func() {
		metrics.ActiveWatchers.WithLabelValues(kind).Dec()
	})
	return sub
}
