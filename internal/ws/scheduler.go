package ws

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrSchedulerClosed = errors.New("broadcast scheduler closed")

// Policy selects the delivery mode of a broadcast:
//
//	Interval == 0 && BatchSize == 0  concurrent, immediate
//	exactly one of them is 0         sequential pass-through
//	both > 0                         timed/size batching per channel
//
// Batched channels are keyed by channel key and Interval together, so sends
// on one key under different intervals batch independently.
type Policy struct {
	Interval  time.Duration
	BatchSize int
}

func Immediate() Policy { return Policy{} }

func (p Policy) batched() bool    { return p.Interval > 0 && p.BatchSize > 0 }
func (p Policy) sequential() bool { return !p.batched() && (p.Interval > 0 || p.BatchSize > 0) }

type SchedulerConfig struct {
	RetryAttempts int
	RetryBackoff  time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{RetryAttempts: 3, RetryBackoff: time.Second}
}

// Scheduler delivers broadcasts. Batched channels are created on first use
// and retired by their own timer once nothing is left to flush.
type Scheduler struct {
	attempts int
	backoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	channels map[channelID]*batchChannel
	closed   bool
}

type channelID struct {
	key      string
	interval time.Duration
}

type batchEntry struct {
	payload  []byte
	audience []Connection
}

type batchChannel struct {
	id       channelID
	interval time.Duration
	guard    chan struct{} // binary semaphore over flush and retirement

	mu      sync.Mutex
	current []batchEntry
	size    int
	ready   [][]batchEntry // sealed batches, FIFO
	timer   *time.Timer
	closed  bool
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		attempts: cfg.RetryAttempts,
		backoff:  cfg.RetryBackoff,
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[channelID]*batchChannel),
	}
}

// Send delivers msg to audience under policy p. Immediate and sequential
// sends return once every recipient has been attempted; batched sends return
// once msg is queued on channelKey.
func (s *Scheduler) Send(ctx context.Context, channelKey string, audience []Connection, msg []byte, p Policy) error {
	if s.ctx.Err() != nil {
		return ErrSchedulerClosed
	}
	aud := append([]Connection(nil), audience...)

	switch {
	case p.batched():
		return s.enqueue(channelKey, aud, msg, p)
	case p.sequential():
		for _, c := range aud {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.deliver(ctx, c, msg)
		}
		return ctx.Err()
	default:
		deliveries := make([]delivery, 0, len(aud))
		for _, c := range aud {
			deliveries = append(deliveries, delivery{conn: c, data: msg})
		}
		s.deliverAll(ctx, deliveries)
		return ctx.Err()
	}
}

func (s *Scheduler) enqueue(key string, audience []Connection, msg []byte, p Policy) error {
	entry := batchEntry{payload: msg, audience: audience}
	for {
		ch, err := s.channel(key, p.Interval)
		if err != nil {
			return err
		}

		ch.mu.Lock()
		if ch.closed {
			// retired between lookup and lock; take the fresh one
			ch.mu.Unlock()
			continue
		}
		sealed := false
		if len(ch.current) > 0 && ch.size+len(msg) >= p.BatchSize {
			ch.ready = append(ch.ready, ch.current)
			ch.current, ch.size = nil, 0
			sealed = true
		}
		ch.current = append(ch.current, entry)
		ch.size += len(msg)
		if ch.timer == nil {
			ch.timer = time.AfterFunc(ch.interval, func() { s.onTimer(ch) })
		}
		ch.mu.Unlock()

		if sealed {
			go s.flushSealed(ch)
		}
		return nil
	}
}

func (s *Scheduler) channel(key string, interval time.Duration) (*batchChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSchedulerClosed
	}
	id := channelID{key: key, interval: interval}
	ch, ok := s.channels[id]
	if !ok {
		ch = &batchChannel{
			id:       id,
			interval: interval,
			guard:    make(chan struct{}, 1),
		}
		s.channels[id] = ch
	}
	return ch, nil
}

func (s *Scheduler) acquire(ch *batchChannel) bool {
	select {
	case ch.guard <- struct{}{}:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Scheduler) release(ch *batchChannel) { <-ch.guard }

func (s *Scheduler) flushSealed(ch *batchChannel) {
	if !s.acquire(ch) {
		return
	}
	defer s.release(ch)
	s.drain(ch, false)
}

func (s *Scheduler) onTimer(ch *batchChannel) {
	if !s.acquire(ch) {
		return
	}
	defer s.release(ch)

	s.drain(ch, true)

	s.mu.Lock()
	ch.mu.Lock()
	if s.closed || (len(ch.current) == 0 && len(ch.ready) == 0) {
		ch.closed = true
		ch.timer = nil
		if s.channels[ch.id] == ch {
			delete(s.channels, ch.id)
		}
	} else if ch.timer != nil {
		ch.timer.Reset(ch.interval)
	}
	ch.mu.Unlock()
	s.mu.Unlock()
}

// drain must run with the guard held. Sealed batches go first, then the
// accumulating one when the timer asked for it.
func (s *Scheduler) drain(ch *batchChannel, withCurrent bool) {
	ch.mu.Lock()
	batches := ch.ready
	ch.ready = nil
	if withCurrent && len(ch.current) > 0 {
		batches = append(batches, ch.current)
		ch.current, ch.size = nil, 0
	}
	ch.mu.Unlock()

	for _, b := range batches {
		s.deliverAll(s.ctx, concatPerRecipient(b))
	}
}

type delivery struct {
	conn Connection
	data []byte
}

// concatPerRecipient folds a batch into one payload per connection holding,
// in enqueue order, exactly the entries whose audience named it.
func concatPerRecipient(batch []batchEntry) []delivery {
	var order []Connection
	bufs := make(map[Connection]*bytes.Buffer)
	for _, e := range batch {
		for _, c := range e.audience {
			b, ok := bufs[c]
			if !ok {
				b = &bytes.Buffer{}
				bufs[c] = b
				order = append(order, c)
			}
			b.Write(e.payload)
		}
	}

	out := make([]delivery, 0, len(order))
	for _, c := range order {
		out = append(out, delivery{conn: c, data: bufs[c].Bytes()})
	}
	return out
}

func (s *Scheduler) deliverAll(ctx context.Context, deliveries []delivery) {
	var wg sync.WaitGroup
	for _, d := range deliveries {
		wg.Add(1)
		go func(d delivery) {
			defer wg.Done()
			s.deliver(ctx, d.conn, d.data)
		}(d)
	}
	wg.Wait()
}

// deliver tries c up to s.attempts times with a fixed backoff. Connections
// that are not open are skipped without retrying.
func (s *Scheduler) deliver(ctx context.Context, c Connection, data []byte) bool {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if !c.IsOpen() {
			return false
		}
		err := c.Send(ctx, data)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrConnClosed) || ctx.Err() != nil {
			return false
		}
		zap.L().Debug("scheduler.send_retry", zap.String("conn", c.ID()), zap.Int("attempt", attempt), zap.Error(err))

		if attempt < s.attempts {
			t := time.NewTimer(s.backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return false
			}
		}
	}
	zap.L().Warn("scheduler.send_failed", zap.String("conn", c.ID()), zap.Int("attempts", s.attempts))
	return false
}

// ActiveChannels reports how many batching channels currently hold a timer.
func (s *Scheduler) ActiveChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Close stops every channel timer, drops unflushed batches and aborts
// in-flight deliveries. Safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	chans := s.channels
	s.channels = make(map[channelID]*batchChannel)
	s.mu.Unlock()

	s.cancel()

	for _, ch := range chans {
		ch.mu.Lock()
		ch.closed = true
		if ch.timer != nil {
			ch.timer.Stop()
			ch.timer = nil
		}
		ch.current, ch.ready, ch.size = nil, nil, 0
		ch.mu.Unlock()
	}
}
