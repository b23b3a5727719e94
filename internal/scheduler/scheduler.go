// Package scheduler runs named, delayed follow-up actions for sessions on a
// single process-wide timeline.
//
// Tasks are keyed by (session, name). Scheduling a name that is already
// pending replaces the earlier task. Right before a task runs, the owning
// session is checked against a Liveness source and the task is discarded if
// the session is gone or finished.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/bhandras/ussdpilot/pkg/logger"
)

// Liveness reports whether a session may still receive follow-ups.
type Liveness interface {
	Live(sessionID string) bool
}

// LivenessFunc adapts a function to Liveness.
type LivenessFunc func(sessionID string) bool

// Live implements Liveness.
func (f LivenessFunc) Live(sessionID string) bool { return f(sessionID) }

type key struct {
	session string
	name    string
}

type task struct {
	key    key
	due    time.Time
	seq    uint64
	action func()
	index  int
}

// Scheduler owns one dispatch goroutine that fires due tasks in deadline
// order.
type Scheduler struct {
	live Liveness
	now  func() time.Time

	mu      sync.Mutex
	pending map[key]*task
	queue   taskQueue
	seq     uint64
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	start   sync.Once
	stop    sync.Once
}

// New creates a scheduler that consults live before firing. A nil live
// treats every session as alive.
func New(live Liveness) *Scheduler {
	return &Scheduler{
		live:    live,
		now:     time.Now,
		pending: make(map[key]*task),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ScheduleOnce runs action once after delay unless the task is replaced,
// cancelled or its session is no longer live when it comes due.
func (s *Scheduler) ScheduleOnce(sessionID, name string, delay time.Duration, action func()) {
	if action == nil {
		return
	}
	if delay < 0 {
		delay = 0
	}
	select {
	case <-s.quit:
		return
	default:
	}
	s.start.Do(func() { go s.loop() })

	s.mu.Lock()
	k := key{session: sessionID, name: name}
	if old, ok := s.pending[k]; ok {
		heap.Remove(&s.queue, old.index)
	}
	s.seq++
	t := &task{key: k, due: s.now().Add(delay), seq: s.seq, action: action}
	s.pending[k] = t
	heap.Push(&s.queue, t)
	s.mu.Unlock()

	logger.Tracef("[scheduler] %s/%s due in %s", sessionID, name, delay)
	s.signal()
}

// Cancel drops the pending task (sessionID, name), if any.
func (s *Scheduler) Cancel(sessionID, name string) {
	s.mu.Lock()
	k := key{session: sessionID, name: name}
	if t, ok := s.pending[k]; ok {
		heap.Remove(&s.queue, t.index)
		delete(s.pending, k)
	}
	s.mu.Unlock()
	s.signal()
}

// CancelSession drops every pending task of sessionID.
func (s *Scheduler) CancelSession(sessionID string) {
	s.mu.Lock()
	for k, t := range s.pending {
		if k.session != sessionID {
			continue
		}
		heap.Remove(&s.queue, t.index)
		delete(s.pending, k)
	}
	s.mu.Unlock()
	s.signal()
}

// Pending returns how many tasks are waiting for sessionID.
func (s *Scheduler) Pending(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.pending {
		if k.session == sessionID {
			n++
		}
	}
	return n
}

// Close stops the dispatch goroutine. Pending tasks never run and later
// ScheduleOnce calls are ignored.
func (s *Scheduler) Close() {
	s.stop.Do(func() {
		close(s.quit)
		s.mu.Lock()
		s.pending = make(map[key]*task)
		s.queue = nil
		s.mu.Unlock()
		// If the loop never started, nobody else will close done.
		s.start.Do(func() { close(s.done) })
		<-s.done
	})
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait, ok := s.fireDue()
		if !ok {
			wait = time.Hour
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.quit:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// fireDue runs every task whose deadline has passed and returns the delay
// until the next one.
func (s *Scheduler) fireDue() (time.Duration, bool) {
	for {
		select {
		case <-s.quit:
			return 0, false
		default:
		}

		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return 0, false
		}
		next := s.queue[0]
		if wait := next.due.Sub(s.now()); wait > 0 {
			s.mu.Unlock()
			return wait, true
		}
		heap.Pop(&s.queue)
		delete(s.pending, next.key)
		s.mu.Unlock()

		s.run(next)
	}
}

func (s *Scheduler) run(t *task) {
	if s.live != nil && !s.live.Live(t.key.session) {
		logger.Debugf("[scheduler] dropping %s/%s: session no longer live", t.key.session, t.key.name)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[scheduler] task %s/%s panicked: %v", t.key.session, t.key.name, r)
		}
	}()
	t.action()
}

// taskQueue is a min-heap ordered by deadline, then scheduling order.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
