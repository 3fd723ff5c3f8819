package engine

import (
	"fmt"
	"sync"
)

// portPool tracks which ports in an inclusive [start, end] range are
// currently bound to a Worker. Mutex-protected: port accounting is a low
// frequency, short critical section operation, unlike the hot-path
// temporary-worker registry which uses xsync.Map instead (see pool.go).
type portPool struct {
	mu     sync.Mutex
	inUse  map[int]bool
	start  int
	end    int
	cursor int
}

func newPortPool(start, end int) *portPool {
	return &portPool{
		inUse:  make(map[int]bool),
		start:  start,
		end:    end,
		cursor: start,
	}
}

// acquire reserves and returns a free port, or ok=false if the range is
// fully bound.
func (p *portPool) acquire() (port int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := p.start; i <= p.end; i++ {
		candidate := p.cursor
		p.cursor++
		if p.cursor > p.end {
			p.cursor = p.start
		}
		if !p.inUse[candidate] {
			p.inUse[candidate] = true
			return candidate, true
		}
		_ = i
	}
	return 0, false
}

// release returns port to the free set.
func (p *portPool) release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}

func (p *portPool) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("portPool[%d-%d] in_use=%d", p.start, p.end, len(p.inUse))
}
