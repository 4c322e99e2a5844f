// Package client implements the member-side cryptographic engine: it holds
// the room key, encrypts outgoing and decrypts incoming envelopes, queues
// messages composed before the key is ready, and owns the self-delete timer
// for ephemeral messages. The engine is transport-agnostic; the websocket
// relay and a direct peer channel satisfy the same Transport interface.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"secure-chat-service/internal/models"
	"secure-chat-service/internal/roomcrypto"
)

var (
	// ErrSecureConnectionFailed is the user-visible outcome of a salt
	// request that timed out. It is never produced silently: the failure
	// callback fires and any queued messages are discarded.
	ErrSecureConnectionFailed = errors.New("client: secure connection failed")
	// ErrQueueFull is returned when the pre-key queue is at capacity.
	ErrQueueFull = errors.New("client: pending message queue full")
	// ErrEphemeralExpired is returned for an ephemeral envelope redelivered
	// after its display window already ended.
	ErrEphemeralExpired = errors.New("client: ephemeral message already expired")
)

// Transport delivers envelopes and salt traffic to the room.
type Transport interface {
	SendEnvelope(ctx context.Context, env models.Envelope) error
	ShareSalt(ctx context.Context, notice models.SaltNotice) error
	RequestSalt(ctx context.Context, roomID, ticketID string) error
}

// Options tune the engine per deployment environment.
type Options struct {
	// SaltTimeout bounds how long a salt request may stay unanswered.
	SaltTimeout time.Duration
	// EphemeralWindow is how long a decrypted ephemeral message stays
	// visible before self-deletion.
	EphemeralWindow time.Duration
	// QueueLimit bounds the pre-key message queue.
	QueueLimit int
	// OnFailure is invoked when the salt request times out.
	OnFailure func(error)
	// OnEphemeralExpire is invoked with the message id when an ephemeral
	// message's display window ends.
	OnEphemeralExpire func(messageID string)
}

func (o *Options) defaults() {
	if o.SaltTimeout <= 0 {
		o.SaltTimeout = 15 * time.Second
	}
	if o.EphemeralWindow <= 0 {
		o.EphemeralWindow = 10 * time.Second
	}
	if o.QueueLimit <= 0 {
		o.QueueLimit = 64
	}
}

// Engine is one member's cryptographic state for one room. The room key
// lives only in process memory and is wiped on Clear.
type Engine struct {
	mu sync.Mutex

	transport Transport
	opts      Options

	ticketID string
	roomID   string
	username string

	key   []byte
	salt  string
	queue []string

	saltTimer *time.Timer
	ephemeral map[string]*time.Timer
	expired   map[string]struct{}
}

// New constructs an engine for one (ticket, room, member) triple.
func New(transport Transport, ticketID, roomID, username string, opts Options) *Engine {
	opts.defaults()
	return &Engine{
		transport: transport,
		opts:      opts,
		ticketID:  ticketID,
		roomID:    roomID,
		username:  username,
		ephemeral: make(map[string]*time.Timer),
		expired:   make(map[string]struct{}),
	}
}

// InitCreator generates a fresh salt, derives the room key, shares the salt
// with the room, and flushes anything queued. Creator-side only.
func (e *Engine) InitCreator(ctx context.Context) (string, error) {
	salt, err := roomcrypto.NewSalt()
	if err != nil {
		return "", err
	}

	key, err := roomcrypto.DeriveKey(e.ticketID, e.roomID, salt)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.key = key
	e.salt = salt
	pending := e.takeQueueLocked()
	e.mu.Unlock()

	notice := models.SaltNotice{RoomID: e.roomID, TicketID: e.ticketID, Salt: salt}
	if err := e.transport.ShareSalt(ctx, notice); err != nil {
		return "", fmt.Errorf("share salt: %w", err)
	}

	e.flush(ctx, pending)
	return salt, nil
}

// RequestKey asks the room for the salt and arms the timeout. If the salt
// arrives first (HandleSaltNotice) the timer is cancelled; otherwise the
// failure surfaces through OnFailure and the queue is discarded. A failed
// key exchange is always visible, never a hang.
func (e *Engine) RequestKey(ctx context.Context) error {
	if err := e.transport.RequestSalt(ctx, e.roomID, e.ticketID); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.saltTimer != nil {
		e.saltTimer.Stop()
	}
	e.saltTimer = time.AfterFunc(e.opts.SaltTimeout, e.saltTimedOut)
	return nil
}

func (e *Engine) saltTimedOut() {
	e.mu.Lock()
	if e.key != nil {
		e.mu.Unlock()
		return
	}
	dropped := len(e.queue)
	e.queue = nil
	e.saltTimer = nil
	e.mu.Unlock()

	if dropped > 0 {
		log.Printf("discarded %d queued messages after key timeout room_id=%s", dropped, e.roomID)
	}
	if e.opts.OnFailure != nil {
		e.opts.OnFailure(ErrSecureConnectionFailed)
	}
}

// HandleSaltNotice derives the room key from a received salt and flushes
// queued messages in their original order.
func (e *Engine) HandleSaltNotice(ctx context.Context, notice models.SaltNotice) error {
	if notice.RoomID != e.roomID {
		return fmt.Errorf("salt notice for wrong room %q", notice.RoomID)
	}

	key, err := roomcrypto.DeriveKey(notice.TicketID, notice.RoomID, notice.Salt)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.key = key
	e.salt = notice.Salt
	if e.saltTimer != nil {
		e.saltTimer.Stop()
		e.saltTimer = nil
	}
	pending := e.takeQueueLocked()
	e.mu.Unlock()

	e.flush(ctx, pending)
	return nil
}

// Salt returns the current salt for re-broadcast (provide-encryption-salt).
func (e *Engine) Salt() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.salt, e.salt != ""
}

// KeyReady reports whether the room key has been derived.
func (e *Engine) KeyReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.key != nil
}

// Send encrypts and sends text. Before the key is ready the message is
// queued (never dropped, never sent unencrypted) and flushed in order
// once the key arrives.
func (e *Engine) Send(ctx context.Context, text string) error {
	e.mu.Lock()
	if e.key == nil {
		if len(e.queue) >= e.opts.QueueLimit {
			e.mu.Unlock()
			return ErrQueueFull
		}
		e.queue = append(e.queue, text)
		e.mu.Unlock()
		return nil
	}
	key := e.key
	e.mu.Unlock()

	env, err := roomcrypto.Seal(key, roomcrypto.Plaintext{Text: text, Username: e.username})
	if err != nil {
		return err
	}
	return e.transport.SendEnvelope(ctx, env)
}

// SendEphemeral encrypts text under a fresh one-time key and sends it. The
// one-time key travels in the envelope, so no room key is required.
func (e *Engine) SendEphemeral(ctx context.Context, text string) error {
	keyHex, err := roomcrypto.NewEphemeralKey()
	if err != nil {
		return err
	}
	env, err := roomcrypto.SealEphemeral(keyHex, roomcrypto.Plaintext{Text: text, Username: e.username})
	if err != nil {
		return err
	}
	return e.transport.SendEnvelope(ctx, env)
}

// Receive decrypts an incoming envelope. For ephemeral envelopes it also
// arms the self-delete timer: OnEphemeralExpire fires once per message id,
// no earlier than the display window, and an envelope redelivered after its
// window is refused rather than re-displayed. Decryption failures drop the
// envelope and are reported to the caller only.
func (e *Engine) Receive(env models.Envelope) (roomcrypto.Plaintext, error) {
	if env.Ephemeral {
		pt, err := roomcrypto.OpenEphemeral(env)
		if err != nil {
			return roomcrypto.Plaintext{}, err
		}
		if !e.armEphemeralTimer(pt.ID) {
			return roomcrypto.Plaintext{}, ErrEphemeralExpired
		}
		return pt, nil
	}

	e.mu.Lock()
	key := e.key
	e.mu.Unlock()
	if key == nil {
		return roomcrypto.Plaintext{}, roomcrypto.ErrKeyNotReady
	}
	return roomcrypto.Open(key, env)
}

// armEphemeralTimer reports whether the message is still displayable: it
// arms the self-delete timer on first sight, tolerates redelivery while the
// timer runs, and refuses ids whose window already ended. Fired ids stay
// tombstoned so redelivery can never make OnEphemeralExpire fire twice.
func (e *Engine) armEphemeralTimer(messageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, fired := e.expired[messageID]; fired {
		return false
	}
	if _, armed := e.ephemeral[messageID]; armed {
		return true
	}
	e.ephemeral[messageID] = time.AfterFunc(e.opts.EphemeralWindow, func() {
		e.mu.Lock()
		delete(e.ephemeral, messageID)
		e.expired[messageID] = struct{}{}
		e.mu.Unlock()
		if e.opts.OnEphemeralExpire != nil {
			e.opts.OnEphemeralExpire(messageID)
		}
	})
	return true
}

// Clear wipes the key material and cancels every timer. Clients call this
// on room-deleted, room-expired, and clear-room-data alike.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.key {
		e.key[i] = 0
	}
	e.key = nil
	e.salt = ""
	e.queue = nil

	if e.saltTimer != nil {
		e.saltTimer.Stop()
		e.saltTimer = nil
	}
	for id, timer := range e.ephemeral {
		timer.Stop()
		delete(e.ephemeral, id)
	}
	e.expired = make(map[string]struct{})
}

func (e *Engine) takeQueueLocked() []string {
	pending := e.queue
	e.queue = nil
	return pending
}

func (e *Engine) flush(ctx context.Context, pending []string) {
	for _, text := range pending {
		if err := e.Send(ctx, text); err != nil {
			log.Printf("flush queued message: %v", err)
		}
	}
}
