package util

import (
	"testing"
	"time"
)

func TestEvent(t *testing.T) {
	e := NewEvent()
	if e.HasBeenNotified() {
		t.Fatal("new event already notified")
	}
	if e.WaitTimeout(time.Millisecond) {
		t.Fatal("WaitTimeout() returned true before Notify")
	}

	go e.Notify()
	e.Wait()
	e.Notify()

	if !e.HasBeenNotified() || !e.WaitTimeout(0) {
		t.Error("event not notified")
	}
	select {
	case <-e.Done():
	default:
		t.Error("Done() not closed")
	}
}
