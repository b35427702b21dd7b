package waitingroom

import (
	"sort"
	"sync"
	"time"

	"github.com/lunfardo314/unitrie/common"
	"go.uber.org/atomic"
)

// WaitingRoom calls functions when their deadline comes. Deadlines are checked once per polling period,
// so a call may be late by up to one period
type WaitingRoom struct {
	mutex   sync.Mutex
	d       map[time.Time][]func()
	period  time.Duration
	stopped atomic.Bool
}

const defaultPollingPeriod = 1 * time.Second

func New(pollEvery ...time.Duration) *WaitingRoom {
	ret := &WaitingRoom{
		d:      make(map[time.Time][]func()),
		period: defaultPollingPeriod,
	}
	if len(pollEvery) > 0 && pollEvery[0] > 0 {
		ret.period = pollEvery[0]
	}
	go ret.polling()
	return ret
}

func (d *WaitingRoom) polling() {
	for {
		time.Sleep(d.period)
		if d.stopped.Load() {
			return
		}
		for _, fun := range d.due(time.Now()) {
			fun()
		}
	}
}

// due removes and returns all functions with deadline not after nowis, earliest first
func (d *WaitingRoom) due(nowis time.Time) []func() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	dels := make([]time.Time, 0)
	for t := range d.d {
		if !t.After(nowis) {
			dels = append(dels, t)
		}
	}
	sort.Slice(dels, func(i, j int) bool {
		return dels[i].Before(dels[j])
	})
	ret := make([]func(), 0)
	for _, t := range dels {
		ret = append(ret, d.d[t]...)
		delete(d.d, t)
	}
	return ret
}

// Stop stops polling. Pending calls are dropped
func (d *WaitingRoom) Stop() {
	d.stopped.Store(true)
}

func (d *WaitingRoom) IsStopped() bool {
	return d.stopped.Load()
}

func (d *WaitingRoom) WaitUntil(t time.Time, fun func()) {
	common.Assert(!d.stopped.Load(), "WaitingRoom already stopped")

	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.d[t] = append(d.d[t], fun)
}

func (d *WaitingRoom) CallDelayed(t time.Duration, fun func()) {
	d.WaitUntil(time.Now().Add(t), fun)
}

// Len returns number of pending calls
func (d *WaitingRoom) Len() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	ret := 0
	for _, l := range d.d {
		ret += len(l)
	}
	return ret
}
