// Package notify emits best-effort, user-facing notifications.
package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// pending counts notifications still being delivered
var pending sync.WaitGroup

// Notifier delivers a short notification to the user
type Notifier interface {
	Notify(title, message string) error
}

// LogNotifier writes notifications to the log
type LogNotifier struct{}

// Notify implements Notifier
func (LogNotifier) Notify(title, message string) error {
	logrus.WithField("notification", title).Info(message)
	return nil
}

// Send delivers a notification in the background. Failures and panics in
// the notifier are logged at debug level and otherwise ignored.
func Send(n Notifier, title, message string) {
	if n == nil {
		return
	}
	pending.Add(1)
	go func() {
		defer pending.Done()
		defer func() {
			if r := recover(); r != nil {
				logrus.Debugf("Notifier panicked: %v", r)
			}
		}()
		if err := n.Notify(title, message); err != nil {
			logrus.Debugf("Failed to send notification %q: %v", title, err)
		}
	}()
}

// Wait blocks until every notification sent so far has been delivered or
// failed, or until timeout. It reports whether they all finished.
func Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
