package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline order,
// with the clock's lock released, so a callback may schedule another
// timer. While a callback runs, Now reports that timer's deadline. A
// callback must not call Advance.
type FakeClock struct {
	mu       sync.Mutex
	now      time.Time
	pending  []*fakeTimer
	seq      uint64
	advances uint64
	changed  *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	seq      uint64
	fn       func()
	ch       chan time.Time
	done     bool

	// after holds the Advance count at creation for non-positive delays;
	// such a timer is only due in a later Advance.
	after    uint64
	deferred bool
}

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock passes now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.addLocked(&fakeTimer{deadline: c.now.Add(d), ch: ch})
	return ch
}

// AfterFunc registers f to run when the clock passes now+d. A
// non-positive d still waits for the next Advance, which keeps callers
// from re-entering themselves.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	ft := &fakeTimer{deadline: c.now.Add(max(d, 0)), fn: f}
	if d <= 0 {
		ft.after, ft.deferred = c.advances, true
	}
	c.addLocked(ft)

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ft.done {
			return false
		}
		ft.done = true
		c.changed.Broadcast()
		return true
	}}
}

func (c *FakeClock) addLocked(ft *fakeTimer) {
	c.seq++
	ft.seq = c.seq
	c.pending = append(c.pending, ft)
	c.changed.Broadcast()
}

// Advance moves the clock forward by d, firing every timer whose deadline
// is reached. The clock steps through each deadline in turn, so timers
// scheduled by callbacks during Advance are measured from the deadline
// that fired them and also fire if they fall within the new time.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.advances++
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		ft := c.popDue(target)
		if ft == nil {
			break
		}
		if ft.fn != nil {
			ft.fn()
		} else {
			select {
			case ft.ch <- ft.deadline:
			default:
			}
		}
	}

	c.mu.Lock()
	if target.After(c.now) {
		c.now = target
	}
	c.mu.Unlock()
}

// popDue removes and returns the earliest due timer, or nil, and moves
// the clock to its deadline.
func (c *FakeClock) popDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.pending[:0]
	for _, ft := range c.pending {
		if !ft.done {
			live = append(live, ft)
		}
	}
	c.pending = live

	sort.Slice(c.pending, func(i, j int) bool {
		a, b := c.pending[i], c.pending[j]
		if a.deadline.Equal(b.deadline) {
			return a.seq < b.seq
		}
		return a.deadline.Before(b.deadline)
	})

	for i, ft := range c.pending {
		if ft.deadline.After(target) {
			return nil
		}
		if ft.deferred && ft.after >= c.advances {
			continue
		}
		ft.done = true
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		if ft.deadline.After(c.now) {
			c.now = ft.deadline
		}
		c.changed.Broadcast()
		return ft
	}
	return nil
}

// WaitForTimers blocks until at least n timers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of timers that have neither fired nor
// been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, ft := range c.pending {
		if !ft.done {
			n++
		}
	}
	return n
}
