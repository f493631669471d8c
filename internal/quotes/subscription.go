package quotes

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Update is one polled quote or the error from polling it.
type Update struct {
	Symbol string
	Quote  *Quote
	Err    error
}

// Subscription polls a Source for a fixed symbol set until closed.
type Subscription struct {
	updates chan Update
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Subscribe starts polling symbols every interval. Updates are delivered on
// Updates(); a slow consumer delays the next poll rather than dropping
// updates. The subscription ends when ctx is done or Close is called.
func Subscribe(ctx context.Context, source Source, symbols []string, interval time.Duration, logger logrus.FieldLogger) *Subscription {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		updates: make(chan Update, len(symbols)),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	syms := append([]string(nil), symbols...)

	go func() {
		defer close(s.done)
		defer close(s.updates)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if !s.poll(ctx, source, syms) {
				logger.Debug("Quote subscription stopped")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

// poll fetches every symbol concurrently and delivers the results. It returns
// false once the subscription is torn down.
func (s *Subscription) poll(ctx context.Context, source Source, symbols []string) bool {
	results := make([]Update, len(symbols))
	var g errgroup.Group
	for i, sym := range symbols {
		g.Go(func() error {
			q, err := source.GetQuote(ctx, sym)
			results[i] = Update{Symbol: sym, Quote: q, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, u := range results {
		if ctx.Err() != nil {
			return false
		}
		select {
		case s.updates <- u:
		case <-ctx.Done():
			return false
		}
	}
	return ctx.Err() == nil
}

// Updates returns the channel of polled quotes. It is closed after teardown.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Close stops polling, cancels in-flight lookups and waits for the poller to
// exit. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
	})
	<-s.done
}
