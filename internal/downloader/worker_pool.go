package downloader

import (
	"context"
	"io"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ticketPool bounds concurrent image fetches. Acquire blocks until a ticket
// is free or ctx is done; every acquired ticket must be released.
type ticketPool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func newTicketPool(size int) *ticketPool {
	if size < 1 {
		size = 1
	}
	return &ticketPool{sem: semaphore.NewWeighted(int64(size))}
}

// Go runs fn holding one ticket. It returns ctx.Err() without running fn when
// no ticket could be acquired.
func (p *ticketPool) Go(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}

// Wait returns once every started task has released its ticket.
func (p *ticketPool) Wait() {
	p.wg.Wait()
}

func copyWithProgress(dst io.Writer, src io.Reader, progress func(n int64)) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		nr, er := src.Read(buf)

		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])

			if nw > 0 {
				total += int64(nw)
				if progress != nil {
					progress(int64(nw))
				}
			}

			if ew != nil {
				return total, ew
			}

			if nr != nw {
				return total, io.ErrShortWrite
			}
		}

		if er != nil {
			if er == io.EOF {
				break
			}
			return total, er
		}
	}

	return total, nil
}
