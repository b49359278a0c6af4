package voice

import (
	"log/slog"
	"sync"
)

// loop runs posted tasks one at a time in post order. A task posted while
// another is running is queued and picked up by the goroutine already draining.
type loop struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	log     *slog.Logger
}

func (l *loop) post(task func()) {
	l.mu.Lock()
	l.queue = append(l.queue, task)
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	for len(l.queue) > 0 {
		next := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		l.run(next)
		l.mu.Lock()
	}
	l.running = false
	l.mu.Unlock()
}

func (l *loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("voice task panicked", slog.Any("panic", r))
		}
	}()
	task()
}
