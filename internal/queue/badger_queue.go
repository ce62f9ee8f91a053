package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// Queue is a durable FIFO job queue stored in Badger with a single
// consumption loop.
//
// Key layout for queue "name":
//
//	queue:name:msg:{id}                      message envelope
//	queue:name:ready:{seq}:{id}              visible now, ordered by enqueue sequence
//	queue:name:delayed:{visibleAt}:{seq}:{id} claimed or waiting on retry backoff
//	queue:name:dead:{seq}:{id}               exhausted, kept for inspection
type Queue struct {
	db     *badger.DB
	name   string
	policy RetryPolicy
	opts   Options
	logger arbor.ILogger
	seq    *badger.Sequence
	now    func() time.Time

	mu           sync.Mutex
	handler      Handler
	onDeadLetter DeadLetterFunc
	handles      map[string]*Handle
	inFlight     string
	cancel       context.CancelFunc
	done         chan struct{}

	wake chan struct{}
}

// NewQueue creates a queue over an open Badger database
func NewQueue(db *badger.DB, name string, policy RetryPolicy, opts Options, logger arbor.ILogger) (*Queue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = NewDefaultOptions().PollInterval
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = NewDefaultOptions().VisibilityTimeout
	}

	seq, err := db.GetSequence([]byte(fmt.Sprintf("queue:%s:seq", name)), 128)
	if err != nil {
		return nil, fmt.Errorf("failed to open sequence for queue %s: %w", name, err)
	}

	return &Queue{
		db:      db,
		name:    name,
		policy:  policy,
		opts:    opts,
		logger:  logger,
		seq:     seq,
		now:     time.Now,
		handles: make(map[string]*Handle),
		wake:    make(chan struct{}, 1),
	}, nil
}

// Enqueue stores payload for jobID and returns a handle resolved when the
// job finishes. The message is durable once Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, jobID string, payload interface{}) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	seq, err := q.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	now := q.now()
	msg := Message{
		ID:         uuid.New().String(),
		JobID:      jobID,
		Payload:    body,
		Seq:        seq,
		EnqueuedAt: now,
		VisibleAt:  now,
	}
	msg.IndexKey = string(q.readyKey(msg.Seq, msg.ID))

	handle := NewHandle(msg.ID, jobID)
	q.mu.Lock()
	q.handles[msg.ID] = handle
	q.mu.Unlock()

	err = q.db.Update(func(txn *badger.Txn) error {
		if err := q.putMessage(txn, &msg); err != nil {
			return err
		}
		return txn.Set([]byte(msg.IndexKey), nil)
	})
	if err != nil {
		q.mu.Lock()
		delete(q.handles, msg.ID)
		q.mu.Unlock()
		return nil, fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}

	q.logger.Debug().
		Str("queue", q.name).
		Str("job_id", jobID).
		Str("message_id", msg.ID).
		Msg("Job enqueued")

	q.signal()
	return handle, nil
}

// Consume registers the queue's handler. Exactly one handler is allowed.
func (q *Queue) Consume(handler Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.handler != nil {
		return fmt.Errorf("%w: %s", ErrHandlerRegistered, q.name)
	}
	q.handler = handler
	return nil
}

// OnDeadLetter registers fn for messages buried without their handler
// returning, i.e. a final attempt whose visibility timeout expired. Handler
// failures are not passed to fn.
func (q *Queue) OnDeadLetter(fn DeadLetterFunc) {
	q.mu.Lock()
	q.onDeadLetter = fn
	q.mu.Unlock()
}

// Start launches the consumption loop
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.handler == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, q.name)
	}
	if q.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})

	go q.run(ctx, q.done)

	q.logger.Info().
		Str("queue", q.name).
		Int("attempts", q.policy.Attempts).
		Dur("backoff", q.policy.Backoff).
		Msg("Queue consumer started")
	return nil
}

// Stop ends the consumption loop, waiting for the in-flight delivery to
// return, and resolves every pending handle with ErrQueueStopped.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	q.mu.Lock()
	for id, h := range q.handles {
		h.Resolve(nil, ErrQueueStopped)
		delete(q.handles, id)
	}
	q.mu.Unlock()

	if err := q.seq.Release(); err != nil {
		q.logger.Warn().Err(err).Str("queue", q.name).Msg("Failed to release queue sequence")
	}

	q.logger.Info().Str("queue", q.name).Msg("Queue consumer stopped")
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run is the queue's single consumption loop
func (q *Queue) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		err := q.processNext(ctx)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNoMessage) && ctx.Err() == nil {
			q.logger.Warn().Err(err).Str("queue", q.name).Msg("Error processing queue message")
		}

		timer := time.NewTimer(q.idleWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// processNext claims and handles one message
func (q *Queue) processNext(ctx context.Context) error {
	msg, err := q.receive()
	if err != nil {
		return err
	}

	job := &Job{
		MessageID:   msg.ID,
		JobID:       msg.JobID,
		Payload:     msg.Payload,
		Attempt:     msg.Attempts,
		MaxAttempts: q.policy.Attempts,
	}

	q.mu.Lock()
	q.inFlight = msg.JobID
	handler := q.handler
	q.mu.Unlock()

	q.logger.Debug().
		Str("queue", q.name).
		Str("job_id", job.JobID).
		Int("attempt", job.Attempt).
		Int("max_attempts", job.MaxAttempts).
		Msg("Processing job")

	start := time.Now()
	result, handlerErr := q.invoke(ctx, handler, job)
	duration := time.Since(start)

	q.mu.Lock()
	q.inFlight = ""
	q.mu.Unlock()

	if handlerErr == nil {
		q.logger.Info().
			Str("queue", q.name).
			Str("job_id", job.JobID).
			Dur("duration", duration).
			Msg("Job completed successfully")
		return q.complete(msg, result)
	}

	// Shutdown interrupted the handler, the delivery does not count
	if ctx.Err() != nil {
		q.logger.Info().Str("queue", q.name).Str("job_id", job.JobID).Msg("Job interrupted by shutdown, releasing")
		return q.release(msg)
	}

	q.logger.Error().
		Err(handlerErr).
		Str("queue", q.name).
		Str("job_id", job.JobID).
		Int("attempt", job.Attempt).
		Dur("duration", duration).
		Msg("Job handler failed")
	return q.fail(msg, handlerErr)
}

func (q *Queue) invoke(ctx context.Context, handler Handler, job *Job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

// receive claims the oldest ready message, first promoting delayed
// messages whose visibility time has passed. Promotions, index cleanup and
// burials commit even when nothing is claimed.
func (q *Queue) receive() (*Message, error) {
	var claimed *Message
	var expired []*Message

	err := q.db.Update(func(txn *badger.Txn) error {
		claimed, expired = nil, nil
		now := q.now()
		if err := q.promoteDue(txn, now); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := q.prefix("ready")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			id := lastSegment(key)

			msg, err := q.getMessage(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				// Index without a message, clean it up
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

			// A claimed final attempt whose consumer died before acknowledging
			if msg.Attempts >= q.policy.Attempts {
				cause := "visibility timeout expired on final attempt"
				if msg.LastError != "" {
					cause = fmt.Sprintf("%s (previous error: %s)", cause, msg.LastError)
				}
				msg.LastError = cause
				if err := q.bury(txn, msg, now); err != nil {
					return err
				}
				expired = append(expired, msg)
				continue
			}

			msg.Attempts++
			msg.VisibleAt = now.Add(q.opts.VisibilityTimeout)
			if err := q.moveIndex(txn, msg, q.delayedKey(msg.VisibleAt, msg.Seq, msg.ID)); err != nil {
				return err
			}
			claimed = msg
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, msg := range expired {
		q.expired(msg)
	}
	if claimed == nil {
		return nil, ErrNoMessage
	}
	return claimed, nil
}

// expired reports a message buried after its consumer was lost
func (q *Queue) expired(msg *Message) {
	q.logger.Warn().
		Str("queue", q.name).
		Str("job_id", msg.JobID).
		Int("attempts", msg.Attempts).
		Str("error", msg.LastError).
		Msg("Job consumer lost on final attempt, moved to dead letters")

	q.resolve(msg.ID, nil, errors.New(msg.LastError))

	q.mu.Lock()
	fn := q.onDeadLetter
	q.mu.Unlock()
	if fn != nil {
		fn(msg.JobID, msg.Attempts, msg.LastError)
	}
}

// promoteDue moves delayed messages that are visible again into the ready
// index under their original sequence, so a retried job keeps its place.
func (q *Queue) promoteDue(txn *badger.Txn, now time.Time) error {
	for _, key := range q.dueKeys(txn, now) {
		msg, err := q.getMessage(txn, lastSegment(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			if err := txn.Delete(key); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := q.moveIndex(txn, msg, q.readyKey(msg.Seq, msg.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) dueKeys(txn *badger.Txn, now time.Time) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	prefix := q.prefix("delayed")
	it := txn.NewIterator(opts)
	defer it.Close()

	var due [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		visibleAt, _, _, err := q.parseDelayedKey(key)
		if err != nil {
			continue
		}
		if visibleAt.After(now) {
			break
		}
		due = append(due, key)
	}
	return due
}

// complete acknowledges a successful delivery; nothing is retained
func (q *Queue) complete(msg *Message, result json.RawMessage) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(msg.IndexKey)); err != nil {
			return err
		}
		return txn.Delete(q.msgKey(msg.ID))
	})
	q.resolve(msg.ID, result, nil)
	if err != nil {
		return fmt.Errorf("failed to acknowledge job %s: %w", msg.JobID, err)
	}
	return nil
}

// fail schedules a retry or, once attempts are exhausted, buries the message
func (q *Queue) fail(msg *Message, cause error) error {
	now := q.now()
	msg.LastError = cause.Error()
	exhausted := msg.Attempts >= q.policy.Attempts
	stale := false

	err := q.db.Update(func(txn *badger.Txn) error {
		owned, err := q.owned(txn, msg)
		if err != nil {
			return err
		}
		if !owned {
			stale = true
			return nil
		}
		if exhausted {
			return q.bury(txn, msg, now)
		}
		msg.VisibleAt = now.Add(q.policy.Delay(msg.Attempts))
		return q.moveIndex(txn, msg, q.delayedKey(msg.VisibleAt, msg.Seq, msg.ID))
	})
	if err != nil {
		return fmt.Errorf("failed to record failure of job %s: %w", msg.JobID, err)
	}

	if stale {
		q.logger.Warn().
			Str("queue", q.name).
			Str("job_id", msg.JobID).
			Int("attempt", msg.Attempts).
			Msg("Claim expired before the failure was recorded, leaving message as is")
		return nil
	}

	if exhausted {
		q.logger.Warn().
			Str("queue", q.name).
			Str("job_id", msg.JobID).
			Int("attempts", msg.Attempts).
			Str("error", msg.LastError).
			Msg("Job exhausted retries, moved to dead letters")
		q.resolve(msg.ID, nil, cause)
		return nil
	}

	q.logger.Info().
		Str("queue", q.name).
		Str("job_id", msg.JobID).
		Int("attempt", msg.Attempts).
		Str("retry_at", msg.VisibleAt.Format(time.RFC3339Nano)).
		Msg("Job scheduled for retry")
	return nil
}

// release returns an interrupted delivery to the ready index uncounted
func (q *Queue) release(msg *Message) error {
	return q.db.Update(func(txn *badger.Txn) error {
		owned, err := q.owned(txn, msg)
		if err != nil || !owned {
			return err
		}
		msg.Attempts--
		msg.VisibleAt = q.now()
		return q.moveIndex(txn, msg, q.readyKey(msg.Seq, msg.ID))
	})
}

// owned reports whether msg is still held by this delivery. A claim that
// outlived its visibility timeout may since have been redelivered or buried.
func (q *Queue) owned(txn *badger.Txn, msg *Message) (bool, error) {
	current, err := q.getMessage(txn, msg.ID)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return current.IndexKey == msg.IndexKey, nil
}

// bury moves msg to the dead letter space
func (q *Queue) bury(txn *badger.Txn, msg *Message, now time.Time) error {
	if err := txn.Delete([]byte(msg.IndexKey)); err != nil {
		return err
	}
	if err := txn.Delete(q.msgKey(msg.ID)); err != nil {
		return err
	}

	failedAt := now
	msg.FailedAt = &failedAt
	msg.IndexKey = ""
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return txn.Set(q.deadKey(msg.Seq, msg.ID), data)
}

func (q *Queue) resolve(messageID string, result json.RawMessage, err error) {
	q.mu.Lock()
	h, ok := q.handles[messageID]
	delete(q.handles, messageID)
	q.mu.Unlock()

	if ok {
		h.Resolve(result, err)
	}
}

// idleWait returns how long an idle loop sleeps: the poll interval, or less
// when a delayed message becomes visible sooner.
func (q *Queue) idleWait() time.Duration {
	wait := q.opts.PollInterval

	_ = q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := q.prefix("delayed")
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		visibleAt, _, _, err := q.parseDelayedKey(it.Item().Key())
		if err != nil {
			return nil
		}
		if until := visibleAt.Sub(q.now()); until < wait {
			wait = until
		}
		return nil
	})

	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait
}

// Length returns the number of messages not yet acknowledged or buried
func (q *Queue) Length(ctx context.Context) (int, error) {
	return q.countPrefix(q.prefix("msg"))
}

// DeadLetters returns exhausted messages, oldest first
func (q *Queue) DeadLetters(ctx context.Context) ([]*Message, error) {
	var result []*Message

	err := q.db.View(func(txn *badger.Txn) error {
		prefix := q.prefix("dead")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			result = append(result, &msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters for queue %s: %w", q.name, err)
	}
	return result, nil
}

// Stats returns counts per index
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Name: q.name}

	ready, err := q.countPrefix(q.prefix("ready"))
	if err != nil {
		return stats, err
	}
	scheduled, err := q.countPrefix(q.prefix("delayed"))
	if err != nil {
		return stats, err
	}
	dead, err := q.countPrefix(q.prefix("dead"))
	if err != nil {
		return stats, err
	}

	stats.Ready = ready
	stats.Scheduled = scheduled
	stats.DeadLetters = dead

	q.mu.Lock()
	stats.Processing = q.inFlight
	q.mu.Unlock()

	return stats, nil
}

func (q *Queue) countPrefix(prefix []byte) (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Helpers

func (q *Queue) getMessage(txn *badger.Txn, id string) (*Message, error) {
	item, err := txn.Get(q.msgKey(id))
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	}); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (q *Queue) putMessage(txn *badger.Txn, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	return txn.Set(q.msgKey(msg.ID), data)
}

// moveIndex replaces the message's index key and persists the message
func (q *Queue) moveIndex(txn *badger.Txn, msg *Message, newKey []byte) error {
	if msg.IndexKey != "" {
		if err := txn.Delete([]byte(msg.IndexKey)); err != nil {
			return err
		}
	}
	msg.IndexKey = string(newKey)
	if err := txn.Set(newKey, nil); err != nil {
		return err
	}
	return q.putMessage(txn, msg)
}

func (q *Queue) prefix(space string) []byte {
	return []byte(fmt.Sprintf("queue:%s:%s:", q.name, space))
}

func (q *Queue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.name, id))
}

// Numbers are zero padded to 20 digits so byte order matches numeric order
func (q *Queue) readyKey(seq uint64, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:ready:%020d:%s", q.name, seq, id))
}

func (q *Queue) delayedKey(visibleAt time.Time, seq uint64, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:delayed:%020d:%020d:%s", q.name, visibleAt.UnixNano(), seq, id))
}

func (q *Queue) deadKey(seq uint64, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dead:%020d:%s", q.name, seq, id))
}

func (q *Queue) parseDelayedKey(key []byte) (time.Time, uint64, string, error) {
	rest := strings.TrimPrefix(string(key), string(q.prefix("delayed")))
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 {
		return time.Time{}, 0, "", fmt.Errorf("invalid delayed key: %s", key)
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, 0, "", err
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, 0, "", err
	}
	return time.Unix(0, ts), seq, parts[2], nil
}

func lastSegment(key []byte) string {
	s := string(key)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}
