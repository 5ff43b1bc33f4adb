package messaging

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const fetchWait = 2 * time.Second

// Consume feeds messages from a pull subscription into a bounded worker
// pool until ctx is cancelled, then blocks until in-flight handlers finish
// and releases the subscription. Messages already fetched when cancellation
// arrives are still handled, so their ack or nack completes normally.
// Fetch-level transport errors are logged and retried; they do not stop the
// loop.
func Consume(ctx context.Context, sub PullSubscription, workers int, handle func(*nats.Msg)) {
	if workers <= 0 {
		workers = 1
	}

	msgs := make(chan *nats.Msg)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for msg := range msgs {
				handle(msg)
			}
		}()
	}

	for ctx.Err() == nil {
		batch, err := sub.Fetch(workers, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			log.Printf("subscription fetch failed: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range batch {
			msgs <- msg
		}
	}

	close(msgs)
	wg.Wait()

	// Bound subscriptions only detach interest here; the durable consumer
	// survives for the next start.
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		log.Printf("subscription unsubscribe failed: %v", err)
	}
}
