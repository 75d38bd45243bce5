package pubsub

import (
	"errors"
	"sync"

	"github.com/alanbriolat/video-downloader/generic"
	"github.com/alanbriolat/video-downloader/internal/sync_"
)

const (
	DefaultPublisherBufSize  = 1
	DefaultSubscriberBufSize = 16
)

var (
	ErrPublisherClosed = errors.New("publisher closed")
)

type Publisher[T any] interface {
	SenderCloser[T]
	// AddSubscriber adds an existing sender as a subscriber. If close is true, the subscriber is closed when the
	// publisher is closed.
	AddSubscriber(s SenderCloser[T], close bool) error
	Subscribe() (ReceiverCloser[T], error)
	SubscribeBufSize(int) (ReceiverCloser[T], error)
}

type subscriberSet[T any] struct {
	all      generic.Set[SenderCloser[T]]
	keepOpen generic.Set[SenderCloser[T]]
}

type publisher[T any] struct {
	mu          sync.Mutex
	ch          Channel[T]
	running     sync.WaitGroup // Goroutines in progress
	pending     sync.WaitGroup // Messages not yet sent to all subscribers
	subscribers *sync_.Mutexed[subscriberSet[T]]
	closed      bool
}

func NewPublisher[T any]() Publisher[T] {
	return NewPublisherBufSize[T](DefaultPublisherBufSize)
}

func NewPublisherBufSize[T any](bufSize int) Publisher[T] {
	p := &publisher[T]{
		ch: NewChannel[T](bufSize),
		subscribers: sync_.NewMutexed(subscriberSet[T]{
			all:      generic.NewPolymorphicSet[SenderCloser[T]](),
			keepOpen: generic.NewPolymorphicSet[SenderCloser[T]](),
		}),
	}
	p.running.Add(1)
	go func() {
		defer p.running.Done()
		for v := range p.ch.Receive() {
			// Get the latest set of subscribers, to avoid holding a lock that prevents adding new subscribers
			for _, s := range p.subscriberSlice(false) {
				if ok := s.Send(v); !ok {
					p.unsubscribe(s)
				}
			}
			p.pending.Done()
		}
	}()
	return p
}

// Send will publish the value to all subscribers. Messages are delivered to each subscriber in the order they were
// sent.
func (p *publisher[T]) Send(msg T) bool {
	p.pending.Add(1)
	if ok := p.ch.Send(msg); !ok {
		// Message was not sent, so don't wait for it
		p.pending.Done()
		return false
	} else {
		return true
	}
}

func (p *publisher[T]) Subscribe() (ReceiverCloser[T], error) {
	return p.SubscribeBufSize(DefaultSubscriberBufSize)
}

func (p *publisher[T]) SubscribeBufSize(bufSize int) (ReceiverCloser[T], error) {
	s := NewChannel[T](bufSize)
	if err := p.AddSubscriber(s, true); err != nil {
		return nil, err
	} else {
		return s, nil
	}
}

func (p *publisher[T]) AddSubscriber(s SenderCloser[T], close bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	return p.subscribers.Locked(func(subscribers *subscriberSet[T]) error {
		subscribers.all.Add(s)
		if !close {
			subscribers.keepOpen.Add(s)
		}
		return nil
	})
}

func (p *publisher[T]) subscriberSlice(clear bool) (slice []SenderCloser[T]) {
	_ = p.subscribers.Locked(func(subscribers *subscriberSet[T]) error {
		for _, s := range subscribers.all.ToSlice() {
			if !clear || !subscribers.keepOpen.Contains(s) {
				slice = append(slice, s)
			}
		}
		if clear {
			subscribers.all.Clear()
			subscribers.keepOpen.Clear()
		}
		return nil
	})
	return slice
}

func (p *publisher[T]) unsubscribe(s SenderCloser[T]) {
	_ = p.subscribers.Locked(func(subscribers *subscriberSet[T]) error {
		subscribers.all.Remove(s)
		subscribers.keepOpen.Remove(s)
		return nil
	})
}

// Close idempotently shuts down the publisher, closing all subscribers that were added with close=true.
func (p *publisher[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Did we already do this?
	if p.closed {
		return
	}
	// Close the send channel, and wait for the channel to be flushed
	p.ch.Close()
	p.pending.Wait()
	p.running.Wait()
	// Close subscribers owned by this publisher
	for _, s := range p.subscriberSlice(true) {
		s.Close()
	}
	// Finally, record the publisher as closed
	p.closed = true
}

func (p *publisher[T]) Closed() <-chan struct{} {
	return p.ch.Closed()
}
