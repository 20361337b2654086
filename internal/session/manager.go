package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/geminichat/internal/domain"
	"github.com/google/uuid"
)

// recordTimeout bounds a single transcript write.
const recordTimeout = 5 * time.Second

// Completer turns a compiled prompt into a reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Recorder persists transcript entries for diagnostics. It is write-only:
// conversations are never restored from it.
type Recorder interface {
	RecordMessage(ctx context.Context, entry domain.TranscriptEntry) error
}

// Manager drives one conversation through its lifecycle. All methods are
// safe for concurrent use.
type Manager struct {
	key       string
	completer Completer
	recorder  Recorder
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time

	mu             sync.Mutex
	state          State
	conversationID string
	cancel         context.CancelFunc
	lastActive     time.Time
	subs           map[uint64]chan Snapshot
	nextSub        uint64
	closed         bool

	wg sync.WaitGroup
}

// NewManager creates a manager for the session identified by key.
// recorder may be nil.
func NewManager(key string, completer Completer, recorder Recorder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		key:       key,
		completer: completer,
		recorder:  recorder,
		logger:    logger.With("session_key", key),
		newID:     uuid.NewString,
		now:       time.Now,
		state:     NewState(),
		subs:      make(map[uint64]chan Snapshot),
	}
	m.conversationID = m.newID()
	m.lastActive = m.now()
	return m
}

// Key returns the session key.
func (m *Manager) Key() string {
	return m.key
}

// Snapshot returns the current state view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Snapshot()
}

// State returns the current state value.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Submit starts a turn for text. It reports false when the submission is
// blank or a turn is already pending; nothing changes in that case.
func (m *Manager) Submit(text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.lastActive = m.now()

	next, compiled, ok := m.state.Submit(text, m.newID())
	if !ok {
		return false
	}
	m.state = next
	turn := next.Phase().(Sending).Turn

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.recordLocked(next.Len() - 1)
	m.publishLocked()

	m.logger.Info("Turn submitted", "turn", turn, "messages", next.Len(), "prompt_length", len(compiled))

	m.wg.Add(1)
	go m.run(ctx, cancel, turn, compiled)
	return true
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, turn uint64, compiled string) {
	defer m.wg.Done()
	defer cancel()

	reply, err := m.completer.Complete(ctx, compiled)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		next, ok := m.state.Fail(turn, FailureMessage)
		if !ok {
			m.logger.Debug("Discarding failure for stale turn", "turn", turn, "error", err)
			return
		}
		m.logger.Error("Turn failed", "turn", turn, "error", err)
		m.state = next
	} else {
		next, ok := m.state.Succeed(turn, reply, m.newID())
		if !ok {
			m.logger.Debug("Discarding reply for stale turn", "turn", turn)
			return
		}
		m.logger.Info("Turn completed", "turn", turn, "reply_length", len(reply))
		m.state = next
		m.recordLocked(next.Len() - 1)
	}

	m.cancel = nil
	m.lastActive = m.now()
	m.publishLocked()
}

// Cancel abandons the pending turn. The request context is cancelled so the
// gateway stops trying further credentials, but the upstream call already in
// progress may still complete; its result is discarded.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastActive = m.now()
	next, ok := m.state.Cancel()
	if !ok {
		return false
	}
	m.state = next
	m.cancelLocked()
	m.publishLocked()
	m.logger.Info("Turn cancelled")
	return true
}

// Dismiss clears a visible error banner.
func (m *Manager) Dismiss() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastActive = m.now()
	next, ok := m.state.Dismiss()
	if !ok {
		return false
	}
	m.state = next
	m.publishLocked()
	return true
}

// Reset discards the conversation and starts a new one.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastActive = m.now()
	m.state = m.state.Reset()
	m.cancelLocked()
	m.conversationID = m.newID()
	m.publishLocked()
	m.logger.Info("Conversation reset")
}

// Subscribe returns a channel that receives the latest snapshot after every
// state change, starting with the current one. Slow readers only see the
// most recent snapshot. Call the returned function to unsubscribe.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastActive = m.now()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- m.state.Snapshot()
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(sub)
			}
			m.lastActive = m.now()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (m *Manager) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// LastActive returns the time of the last interaction.
func (m *Manager) LastActive() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActive
}

func (m *Manager) touch(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if at.After(m.lastActive) {
		m.lastActive = at
	}
}

// Wait blocks until in-flight turns and transcript writes have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels any pending turn and closes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.cancelLocked()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

func (m *Manager) cancelLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// publishLocked hands the current snapshot to every subscriber. Each channel
// has capacity one and is only written here under m.mu, so after draining a
// stale value the send cannot block.
func (m *Manager) publishLocked() {
	snap := m.state.Snapshot()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (m *Manager) recordLocked(seq int) {
	if m.recorder == nil {
		return
	}
	entry := domain.TranscriptEntry{
		SessionKey:     m.key,
		ConversationID: m.conversationID,
		Seq:            seq,
		Message:        m.state.messages[seq],
		CreatedAt:      m.now(),
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := m.recorder.RecordMessage(ctx, entry); err != nil {
			m.logger.Warn("Failed to record transcript entry", "error", err, "seq", entry.Seq)
		}
	}()
}
