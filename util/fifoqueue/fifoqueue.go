package fifoqueue

import (
	"sync"

	"github.com/gammazero/deque"
)

// FIFOQueue is unbounded synchronized FIFO queue. Writers never block
type FIFOQueue[T any] struct {
	d         *deque.Deque[T]
	mutex     sync.Mutex
	cond      *sync.Cond
	closing   bool
	closedNow bool
}

func New[T any]() *FIFOQueue[T] {
	ret := &FIFOQueue[T]{
		d: new(deque.Deque[T]),
	}
	ret.cond = sync.NewCond(&ret.mutex)
	return ret
}

// Write pushes element. Panics if the queue is closing
func (q *FIFOQueue[T]) Write(elem T) {
	if !q.TryWrite(elem) {
		panic("attempt to write to the closed FIFOQueue")
	}
}

// TryWrite pushes element and returns false if the queue is closing
func (q *FIFOQueue[T]) TryWrite(elem T) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closing {
		return false
	}
	q.d.PushBack(elem)
	q.cond.Signal()
	return true
}

// CloseNow closes FIFOQueue immediately. The elements in the buffer are lost
func (q *FIFOQueue[T]) CloseNow() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.closing = true
	q.closedNow = true
	q.cond.Broadcast()
}

// Close closes FIFOQueue deferred until all elements are read
func (q *FIFOQueue[T]) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.closing = true
	q.cond.Broadcast()
}

// read blocks until an element is available or the queue is closed.
// The buffer and the closing flag are always checked under the mutex, so a wake-up can't be missed
func (q *FIFOQueue[T]) read() (T, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for {
		switch {
		case q.closedNow:
			var nilT T
			return nilT, false
		case q.d.Len() > 0:
			return q.d.PopFront(), true
		case q.closing:
			var nilT T
			return nilT, false
		}
		q.cond.Wait()
	}
}

// Consume reads all elements of the queue until it is closed
func (q *FIFOQueue[T]) Consume(fun func(elem T)) {
	for {
		e, ok := q.read()
		if !ok {
			break
		}
		fun(e)
	}
}

// Len returns number of buffered elements. Non-deterministic
func (q *FIFOQueue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.d.Len()
}
