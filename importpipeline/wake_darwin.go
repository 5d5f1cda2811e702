//go:build darwin

package importpipeline

import (
	notifier "github.com/prashantgupta24/mac-sleep-notifier/notifier"

	"trustgraph/engine/actors"
	"trustgraph/engine/library"
)

// WatchForWake re-arms fetchJob and scheduleJob as soon as macOS
// reports the machine woke from sleep: every identity's last-fetched
// timestamp is stale the moment the laptop lid opens, and waiting out
// the normal poll interval would leave the trust graph looking dead
// for no reason.
func WatchForWake(fetchJob, scheduleJob actors.DelayedJob) {
	n := notifier.GetInstance()
	ch := n.Start()
	go func() {
		for event := range ch {
			if event.Type == notifier.Awake {
				library.Log("resuming from sleep, re-arming import pipeline", 4)
				TriggerOnWake(fetchJob)
				TriggerOnWake(scheduleJob)
			}
		}
	}()
}
