package transport

import (
	"sync"
)

// sendQueue decouples Send from the network: chunks are copied into pooled
// buffers and written by one goroutine per connection. A full queue is
// reported as ErrWouldBlock.
type sendQueue struct {
	write  func([]byte) error
	onFail func(error)

	queue chan *[]byte
	pool  sync.Pool
	done  chan struct{}
	wg    sync.WaitGroup

	stopOnce sync.Once
}

func newSendQueue(depth, chunkSize int, write func([]byte) error, onFail func(error)) *sendQueue {
	q := &sendQueue{
		write:  write,
		onFail: onFail,
		queue:  make(chan *[]byte, depth),
		done:   make(chan struct{}),
	}
	q.pool.New = func() interface{} {
		buf := make([]byte, 0, chunkSize)
		return &buf
	}

	q.wg.Add(1)
	go q.run()
	return q
}

// enqueue copies p and queues it without blocking
func (q *sendQueue) enqueue(p []byte) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	buf := q.pool.Get().(*[]byte)
	*buf = append((*buf)[:0], p...)

	select {
	case q.queue <- buf:
		return nil
	default:
		q.pool.Put(buf)
		return ErrWouldBlock
	}
}

func (q *sendQueue) run() {
	defer q.wg.Done()

	for {
		select {
		case <-q.done:
			return
		case buf := <-q.queue:
			err := q.write(*buf)
			q.pool.Put(buf)
			if err != nil {
				q.onFail(err)
				return
			}
		}
	}
}

// stop signals the writer to exit. The caller closes the underlying
// connection to unblock an in-flight write, then calls wait.
func (q *sendQueue) stop() {
	q.stopOnce.Do(func() {
		close(q.done)
	})
}

func (q *sendQueue) wait() {
	q.wg.Wait()
}
