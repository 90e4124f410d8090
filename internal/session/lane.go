package session

import "sync"

// lane runs submitted work one item at a time, in submission order. A goroutine is alive only while
// work is queued.
type lane struct {
	lock    sync.Mutex
	queue   []func()
	running bool
}

func (l *lane) submit(fn func()) <-chan struct{} {
	done := make(chan struct{})

	l.lock.Lock()
	l.queue = append(l.queue, func() {
		defer close(done)
		fn()
	})
	if !l.running {
		l.running = true
		go l.run()
	}
	l.lock.Unlock()

	return done
}

func (l *lane) run() {
	for {
		l.lock.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.lock.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.lock.Unlock()

		fn()
	}
}

func closedChan() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

// all is closed once every channel is closed
func all(chans []<-chan struct{}) <-chan struct{} {
	if len(chans) == 0 {
		return closedChan()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range chans {
			<-ch
		}
	}()
	return done
}
