package app

import "time"

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler arms cancellable callbacks. Matches never sleep; every delay goes through here.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClockScheduler struct{}

func (wallClockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// WallClock returns the Scheduler backed by time.AfterFunc.
func WallClock() Scheduler {
	return wallClockScheduler{}
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
