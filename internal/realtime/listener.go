// Package realtime turns Postgres NOTIFY events for inserted messages into
// hydrated message deliveries.
//
// A trigger on messages sends the new row id on the league's channel. One
// shared connection LISTENs on every league with at least one subscriber.
// Each notification is hydrated on its own goroutine, so deliveries are not
// ordered and a slow hydration never holds up the next one.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/leaguechat/internal/chat"
	"github.com/leaguechat/pkg/models"
)

// ChannelPrefix prefixes the per-league NOTIFY channel. The payload is the
// id of the inserted message.
const ChannelPrefix = "chat_league:"

// ChannelForLeague returns the NOTIFY channel of a league
func ChannelForLeague(leagueID string) string {
	return ChannelPrefix + leagueID
}

const hydrateTimeout = 10 * time.Second

// NotificationSource is the subset of *pq.Listener the Listener uses
type NotificationSource interface {
	Listen(channel string) error
	Unlisten(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// Hydrator loads a full message by id. It returns nil, nil for messages that
// no longer exist.
type Hydrator interface {
	GetMessage(ctx context.Context, messageID string) (*models.ChatMessage, error)
}

// Options for NewPQSource
type Options struct {
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

// NewPQSource opens a pq.Listener on dbURL. Reconnects are handled by pq;
// notifications sent while disconnected are lost.
func NewPQSource(dbURL string, opts Options) *pq.Listener {
	if opts.MinReconnect <= 0 {
		opts.MinReconnect = time.Second
	}
	if opts.MaxReconnect < opts.MinReconnect {
		opts.MaxReconnect = time.Minute
	}

	return pq.NewListener(dbURL, opts.MinReconnect, opts.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Info().Msg("Realtime listener connected")
		case pq.ListenerEventDisconnected:
			log.Warn().Err(err).Msg("Realtime listener disconnected")
		case pq.ListenerEventReconnected:
			log.Info().Msg("Realtime listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn().Err(err).Msg("Realtime listener connection attempt failed")
		}
	})
}

// Listener fans notifications out to league subscriptions
type Listener struct {
	source   NotificationSource
	hydrator Hydrator

	mu       sync.Mutex
	channels map[string]*channelState
	nextID   uint64
	closed   bool

	// listenMu orders LISTEN/UNLISTEN round-trips without holding mu
	listenMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener starts dispatching notifications from source
func NewListener(source NotificationSource, hydrator Hydrator) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		source:   source,
		hydrator: hydrator,
		channels: make(map[string]*channelState),
		ctx:      ctx,
		cancel:   cancel,
	}

	l.wg.Add(1)
	go l.dispatch()
	return l
}

// channelState tracks the subscribers of one league channel. ready is
// closed once the LISTEN for the channel has returned, with err its result.
type channelState struct {
	subs  map[uint64]*subscription
	ready chan struct{}
	err   error
}

type subscription struct {
	id        uint64
	channel   string
	onMessage func(*models.ChatMessage)
	listener  *Listener
	closed    atomic.Bool
	once      sync.Once

	stopMu sync.Mutex
	stop   func() bool
}

// setStop records the ctx watcher, releasing it at once if the
// subscription was already closed.
func (s *subscription) setStop(stop func() bool) {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.closed.Load() {
		stop()
		return
	}
	s.stop = stop
}

// Close stops further deliveries. Hydrations already in flight are discarded.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.stopMu.Lock()
		s.closed.Store(true)
		if s.stop != nil {
			s.stop()
		}
		s.stopMu.Unlock()
		err = s.listener.remove(s)
	})
	return err
}

// Subscribe delivers every message inserted into the league to onMessage
// until the subscription is closed or ctx is done.
func (l *Listener) Subscribe(ctx context.Context, leagueID string, onMessage func(*models.ChatMessage)) (chat.Subscription, error) {
	if _, err := uuid.Parse(leagueID); err != nil {
		return nil, chat.Invalid(fmt.Sprintf("invalid league id %q", leagueID))
	}
	if onMessage == nil {
		return nil, chat.Invalid("onMessage is required")
	}

	channel := ChannelForLeague(leagueID)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: listener closed", chat.ErrTransport)
	}

	state, ok := l.channels[channel]
	first := !ok
	if first {
		state = &channelState{subs: make(map[uint64]*subscription), ready: make(chan struct{})}
		l.channels[channel] = state
	}

	l.nextID++
	sub := &subscription{
		id:        l.nextID,
		channel:   channel,
		onMessage: onMessage,
		listener:  l,
	}
	state.subs[sub.id] = sub
	l.mu.Unlock()

	// The round-trip to Postgres happens outside mu so dispatch for other
	// leagues keeps running
	if first {
		l.listenMu.Lock()
		err := l.source.Listen(channel)
		l.listenMu.Unlock()
		if err != nil && err != pq.ErrChannelAlreadyOpen {
			state.err = err
		} else {
			log.Debug().Str("channel", channel).Msg("Listening for league messages")
		}
		close(state.ready)
	} else {
		select {
		case <-state.ready:
		case <-ctx.Done():
			l.drop(state, sub)
			return nil, ctx.Err()
		}
	}

	if state.err != nil {
		l.drop(state, sub)
		return nil, fmt.Errorf("failed to listen on %s: %w: %w", channel, chat.ErrTransport, state.err)
	}
	if sub.closed.Load() {
		return nil, fmt.Errorf("%w: listener closed", chat.ErrTransport)
	}

	sub.setStop(context.AfterFunc(ctx, func() { sub.Close() }))
	return sub, nil
}

// drop forgets a subscription that never became active. The channel was
// never LISTENed successfully by it, so no UNLISTEN is issued.
func (l *Listener) drop(state *channelState, sub *subscription) {
	sub.closed.Store(true)

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(state.subs, sub.id)
	if len(state.subs) == 0 && l.channels[sub.channel] == state {
		delete(l.channels, sub.channel)
	}
}

func (l *Listener) remove(sub *subscription) error {
	l.mu.Lock()
	state, ok := l.channels[sub.channel]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	delete(state.subs, sub.id)
	if len(state.subs) > 0 || l.closed {
		l.mu.Unlock()
		return nil
	}
	delete(l.channels, sub.channel)
	l.mu.Unlock()

	l.listenMu.Lock()
	defer l.listenMu.Unlock()

	// A new subscriber may have claimed the channel meanwhile; its LISTEN
	// is ordered after this check by listenMu
	l.mu.Lock()
	_, reclaimed := l.channels[sub.channel]
	closed := l.closed
	l.mu.Unlock()
	if reclaimed || closed {
		return nil
	}

	if err := l.source.Unlisten(sub.channel); err != nil && err != pq.ErrChannelNotOpen {
		return fmt.Errorf("failed to unlisten %s: %w", sub.channel, err)
	}
	log.Debug().Str("channel", sub.channel).Msg("Stopped listening for league messages")
	return nil
}

func (l *Listener) subscribers(channel string) []*subscription {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.channels[channel]
	if !ok {
		return nil
	}
	subs := make([]*subscription, 0, len(state.subs))
	for _, s := range state.subs {
		subs = append(subs, s)
	}
	return subs
}

func (l *Listener) dispatch() {
	defer l.wg.Done()

	for n := range l.source.NotificationChannel() {
		if n == nil {
			// pq sends nil after a reconnect; anything sent meanwhile is gone
			log.Warn().Msg("Realtime connection re-established, notifications may have been missed")
			continue
		}

		subs := l.subscribers(n.Channel)
		if len(subs) == 0 {
			continue
		}

		l.wg.Add(1)
		go l.deliver(n.Extra, subs)
	}
}

func (l *Listener) deliver(messageID string, subs []*subscription) {
	defer l.wg.Done()

	ctx, cancel := context.WithTimeout(l.ctx, hydrateTimeout)
	defer cancel()

	msg, err := l.hydrator.GetMessage(ctx, messageID)
	if err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("Failed to hydrate realtime message")
		return
	}
	if msg == nil {
		log.Debug().Str("message_id", messageID).Msg("Realtime message vanished before hydration")
		return
	}

	for _, s := range subs {
		if s.closed.Load() {
			continue
		}
		s.onMessage(msg)
	}
}

// Close stops the listener and its source. Pending deliveries are dropped.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for _, state := range l.channels {
		for _, s := range state.subs {
			s.closed.Store(true)
		}
	}
	l.channels = make(map[string]*channelState)
	l.mu.Unlock()

	l.cancel()
	err := l.source.Close()
	l.wg.Wait()
	return err
}
