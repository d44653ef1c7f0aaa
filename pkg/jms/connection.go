package jms

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qpidgo/jmscore/pkg/jmserr"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultCloseTimeout   = 15 * time.Second
	defaultRequestTimeout = 15 * time.Second
	defaultPrefetch       = 1000
)

// Connection is the top-level state machine. It owns the provider handle,
// the session/temporary-destination registries, the shared RequestTracker,
// and the connection-wide Executor.
type Connection struct {
	cfg    *cfg
	info   *ConnectionInfo
	logger Logger

	providerMu sync.RWMutex
	provider   Provider

	clientIDMu sync.Mutex
	connected  atomic.Bool

	started atomic.Bool
	closing atomic.Bool
	closed  atomic.Bool
	failed  atomic.Bool
	first   atomic.Pointer[error]

	sessionsMu sync.RWMutex
	sessions   map[SessionID]*Session
	sessionSeq idSequence

	tempDestMu  sync.RWMutex
	tempDests   map[string]*TemporaryDestination
	tempDestSeq idSequence

	tracker *requestTracker
	exec    *executor

	connListener      ConnectionListener
	exceptionListener ExceptionListener
}

// NewConnection builds a Connection around provider, applying opts over
// the defaults. The connection is not yet attached to the provider —
// that happens lazily on the first operation that needs it.
func NewConnection(provider Provider, opts ...Opt) *Connection {
	c := defaultCfg()
	for _, o := range opts {
		o.apply(c)
	}

	info := NewConnectionInfo(c.uris...)
	if c.clientID != "" {
		info.clientID = c.clientID
		info.clientIDSet = true
	}
	info.Credentials = c.credentials
	info.Policies = c.policies
	if c.timeouts.Connect > 0 {
		info.Timeouts = c.timeouts
	}
	info.Toggles = c.toggles

	conn := &Connection{
		cfg:               c,
		info:              info,
		logger:            c.logger,
		provider:          provider,
		sessions:          make(map[SessionID]*Session),
		tempDests:         make(map[string]*TemporaryDestination),
		tracker:           newRequestTracker(),
		connListener:      c.connListener,
		exceptionListener: c.exceptionListener,
	}
	provider.SetListener(conn)
	return conn
}

func (c *Connection) Info() *ConnectionInfo { return c.info }

func (c *Connection) Provider() Provider {
	c.providerMu.RLock()
	defer c.providerMu.RUnlock()
	return c.provider
}

func (c *Connection) setProvider(p Provider) {
	c.providerMu.Lock()
	c.provider = p
	c.providerMu.Unlock()
}

func (c *Connection) closedOrFailedErr() error {
	if c.failed.Load() {
		var cause error
		if p := c.first.Load(); p != nil {
			cause = *p
		}
		return jmserr.NewConnectionFailed(cause)
	}
	return jmserr.NewIllegalState("connection %s is closed", c.info.ID)
}

// doRequest is the common provider-call shape used throughout this file:
// reject if closed/failed, register a future, invoke fn, await, then
// always deregister.
func (c *Connection) doRequest(ctx context.Context, fn func(ctx context.Context, f *Future)) error {
	if c.closed.Load() || c.failed.Load() {
		return c.closedOrFailedErr()
	}
	f := NewFuture(nil)
	id := c.tracker.register(f)
	defer c.tracker.deregister(id)
	fn(ctx, f)
	return f.Wait(ctx)
}

func (c *Connection) createResource(ctx context.Context, res Resource, info any) error {
	return c.doRequest(ctx, func(ctx context.Context, f *Future) {
		c.Provider().Create(ctx, res, info, f)
	})
}

func (c *Connection) startResource(ctx context.Context, res Resource) error {
	return c.doRequest(ctx, func(ctx context.Context, f *Future) {
		c.Provider().StartResource(ctx, res, f)
	})
}

func (c *Connection) stopResource(ctx context.Context, res Resource) error {
	return c.doRequest(ctx, func(ctx context.Context, f *Future) {
		c.Provider().StopResource(ctx, res, f)
	})
}

func (c *Connection) destroyResource(ctx context.Context, res Resource) error {
	return c.doRequest(ctx, func(ctx context.Context, f *Future) {
		c.Provider().Destroy(ctx, res, f)
	})
}

// dispatchAsyncException delivers an asynchronous exception: if an
// ExceptionListener is registered, schedule delivery on the Executor,
// otherwise log and drop.
func (c *Connection) dispatchAsyncException(err error) {
	if c.exceptionListener == nil {
		c.logger.Log(LogLevelWarn, "async exception dropped; no listener registered", "err", err)
		return
	}
	if c.exec == nil {
		c.exceptionListener(err)
		return
	}
	c.exec.Submit(func() { c.exceptionListener(err) })
}

// ensureConnected runs the lazy connect sequence at most once. It is
// triggered by SetClientID, Start, CreateSession, or any other operation
// that needs an active provider.
func (c *Connection) ensureConnected(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	c.clientIDMu.Lock()
	defer c.clientIDMu.Unlock()
	if c.connected.Load() {
		return nil
	}
	if c.closed.Load() || c.failed.Load() {
		return c.closedOrFailedErr()
	}
	if err := c.doConnect(ctx); err != nil {
		return err
	}
	c.connected.Store(true)
	return nil
}

func (c *Connection) doConnect(ctx context.Context) error {
	if err := c.Provider().Start(ctx); err != nil {
		return jmserr.Wrap(jmserr.ConnectionFailed, "provider start failed", err)
	}
	c.exec = newExecutor()

	f := NewFuture(nil)
	id := c.tracker.register(f)
	c.Provider().Create(ctx, connResource(c.info.ID), c.info, f)
	err := f.Wait(ctx)
	c.tracker.deregister(id)
	if err != nil {
		return err
	}
	c.info.ConnectedURI = c.Provider().RemoteURI()
	return nil
}

// SetClientID sets the client id before the connection has connected;
// once connected the id is immutable. Setting
// an explicit id triggers the lazy connect so the provider can validate
// uniqueness before any other operation proceeds.
func (c *Connection) SetClientID(ctx context.Context, id string) error {
	if id == "" {
		return jmserr.NewInvalidClientID("client id must not be empty")
	}
	c.clientIDMu.Lock()
	if c.connected.Load() {
		c.clientIDMu.Unlock()
		return jmserr.NewIllegalState("client id cannot be set once the connection is established")
	}
	c.info.clientID = id
	c.info.clientIDSet = true
	c.clientIDMu.Unlock()
	return c.ensureConnected(ctx)
}

// --- sessions -------------------------------------------------------------

func (c *Connection) snapshotSessions() []*Session {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

func (c *Connection) session(id SessionID) *Session {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	return c.sessions[id]
}

func (c *Connection) removeSession(id SessionID) {
	c.sessionsMu.Lock()
	delete(c.sessions, id)
	c.sessionsMu.Unlock()
}

func (c *Connection) findProducer(id ProducerID) *Producer {
	if s := c.session(id.Session); s != nil {
		return s.producer(id)
	}
	return nil
}

func (c *Connection) findConsumer(id ConsumerID) *Consumer {
	if s := c.session(id.Session); s != nil {
		return s.consumer(id)
	}
	return nil
}

// CreateSession creates a new Session on this connection.
func (c *Connection) CreateSession(ctx context.Context, ackMode AckMode) (*Session, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	seq := c.sessionSeq.nextSeq()
	sid := SessionID{Conn: c.info.ID, Seq: seq}
	sinfo := SessionInfo{ID: sid, AckMode: ackMode, Policies: c.info.Policies}

	if err := c.createResource(ctx, sessionResource(sid), sinfo); err != nil {
		return nil, err
	}

	session := newSession(c, sinfo)
	if ackMode == Transacted {
		if err := session.tx.Rearm(ctx, c.Provider()); err != nil {
			c.logger.Log(LogLevelWarn, "initial transaction declare failed; session starts in-doubt", "session", sid, "err", err)
		}
	}

	c.sessionsMu.Lock()
	c.sessions[sid] = session
	c.sessionsMu.Unlock()

	if c.started.Load() {
		if err := session.Start(ctx); err != nil {
			c.logger.Log(LogLevelWarn, "failed to start newly created session", "session", sid, "err", err)
		}
	}
	return session, nil
}

// --- temporary destinations -------------------------------------------------

func (c *Connection) tempDestination(name string) *TemporaryDestination {
	c.tempDestMu.RLock()
	defer c.tempDestMu.RUnlock()
	return c.tempDests[name]
}

func (c *Connection) snapshotTempDests() []*TemporaryDestination {
	c.tempDestMu.RLock()
	defer c.tempDestMu.RUnlock()
	out := make([]*TemporaryDestination, 0, len(c.tempDests))
	for _, td := range c.tempDests {
		out = append(out, td)
	}
	return out
}

func (c *Connection) createTemporaryDestination(ctx context.Context, kind DestinationKind) (*TemporaryDestination, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	seq := c.tempDestSeq.nextSeq()
	name := tempDestinationName(c.info.ID, seq)
	td := newTemporaryDestination(c.info.ID, kind, name)

	if err := c.createResource(ctx, tempDestResource(name), td); err != nil {
		return nil, err
	}

	c.tempDestMu.Lock()
	c.tempDests[name] = td
	c.tempDestMu.Unlock()
	return td, nil
}

// CreateTemporaryQueue creates a temporary queue scoped to this
// connection.
func (c *Connection) CreateTemporaryQueue(ctx context.Context) (*TemporaryDestination, error) {
	return c.createTemporaryDestination(ctx, Queue)
}

// CreateTemporaryTopic creates a temporary topic scoped to this
// connection.
func (c *Connection) CreateTemporaryTopic(ctx context.Context) (*TemporaryDestination, error) {
	return c.createTemporaryDestination(ctx, Topic)
}

// DeleteTemporaryDestination removes td, refusing while any consumer is
// still attached to it.
func (c *Connection) DeleteTemporaryDestination(ctx context.Context, td *TemporaryDestination) error {
	if td.inUse() {
		return jmserr.NewIllegalState("temporary destination %s has active consumers", td.Name)
	}
	c.tempDestMu.Lock()
	delete(c.tempDests, td.Name)
	c.tempDestMu.Unlock()
	td.deleted.Store(true)
	return c.destroyResource(ctx, tempDestResource(td.Name))
}

// clearTempDests empties the registry. It is called once from shutdown
// and again from Close; clearing an already-empty map is a no-op, so the
// redundant second call is harmless and kept rather than collapsed into
// one call site.
func (c *Connection) clearTempDests() {
	c.tempDestMu.Lock()
	c.tempDests = make(map[string]*TemporaryDestination)
	c.tempDestMu.Unlock()
}

// Unsubscribe forwards a durable-subscription removal to the provider.
// Callers reach this through Session.Unsubscribe, which has already
// checked for an in-use consumer on its own session; this additionally
// checks every other session on the connection.
func (c *Connection) Unsubscribe(ctx context.Context, name string) error {
	for _, s := range c.snapshotSessions() {
		for _, cons := range s.snapshotConsumers() {
			if cons.DurableName() == name && !cons.isClosed() {
				return jmserr.NewIllegalState("durable subscription %q is in use", name)
			}
		}
	}
	return c.doRequest(ctx, func(ctx context.Context, f *Future) {
		c.Provider().Unsubscribe(ctx, name, f)
	})
}

// --- start / stop / close ---------------------------------------------------

// Start connects if necessary, then propagates to every session.
func (c *Connection) Start(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.startResource(ctx, connResource(c.info.ID)); err != nil {
		c.started.Store(false)
		return err
	}
	for _, s := range c.snapshotSessions() {
		if err := s.Start(ctx); err != nil {
			c.logger.Log(LogLevelWarn, "failed to start session", "session", s.ID(), "err", err)
		}
	}
	return nil
}

// Stop is idempotent and propagates to every session.
func (c *Connection) Stop(ctx context.Context) error {
	if !c.started.CompareAndSwap(true, false) {
		return nil
	}
	for _, s := range c.snapshotSessions() {
		_ = s.Stop(ctx)
	}
	return c.stopResource(ctx, connResource(c.info.ID))
}

// shutdown fans session shutdown out concurrently (one errgroup goroutine
// per session, no concurrency limit), clears the temp-destination
// registry, destroys the connection resource remotely unless the
// connection already failed, and stops the Executor. Session shutdown
// errors and the provider Close error are dropped; a remote destroy error
// is logged and returned (Close discards it once the connection failed).
//
// onExecutor must be true when shutdown runs as a task submitted to
// c.exec itself (the OnConnectionFailure path): blocking on exec.Shutdown
// from inside the very goroutine that executor.run loops on would
// deadlock, so that case only initiates the executor's stop instead of
// waiting for it.
func (c *Connection) shutdown(ctx context.Context, destroyRemote, onExecutor bool) error {
	sessions := c.snapshotSessions()
	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(func() error { return s.shutdown(ctx) })
	}
	_ = g.Wait()

	c.sessionsMu.Lock()
	c.sessions = make(map[SessionID]*Session)
	c.sessionsMu.Unlock()

	c.clearTempDests()

	var err error
	if destroyRemote && !c.failed.Load() {
		if derr := c.destroyResource(ctx, connResource(c.info.ID)); derr != nil {
			c.logger.Log(LogLevelWarn, "provider destroy failed during shutdown", "err", derr)
			err = derr
		}
	}
	if c.exec != nil {
		if onExecutor {
			c.exec.initiate()
		} else {
			c.exec.Shutdown()
		}
	}
	_ = c.Provider().Close(ctx)
	c.closed.Store(true)
	return err
}

// Close is idempotent, tolerant of a failed connection, and preserves an
// already-canceled caller context rather than letting cleanup skip
// because of it.
func (c *Connection) Close(ctx context.Context) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	interrupted := ctx.Err() != nil

	cctx, cancel := context.WithTimeout(context.Background(), c.info.Timeouts.Close)
	defer cancel()

	err := c.shutdown(cctx, true, false)
	c.clearTempDests()

	if c.failed.Load() {
		return nil
	}
	if interrupted && err == nil {
		return ctx.Err()
	}
	return err
}

// --- ProviderListener -------------------------------------------------------

func (c *Connection) OnInboundMessage(env *InboundEnvelope) {
	s := c.session(env.Consumer.Session)
	if s == nil {
		c.logger.Log(LogLevelWarn, "inbound message for unknown session dropped", "consumer", env.Consumer)
		return
	}
	s.routeInbound(env)
}

func (c *Connection) OnConnectionEstablished(uri string) {
	c.info.ConnectedURI = uri
}

func (c *Connection) OnConnectionInterrupted(uri string) {
	for _, s := range c.snapshotSessions() {
		s.onInterrupted()
	}
	if c.exec != nil {
		c.exec.Submit(func() {
			if c.connListener != nil {
				c.connListener.OnConnectionInterrupted(uri)
			}
		})
	}
}

// OnConnectionRecovery is the middle phase of recovery: declare
// connection info, every temporary destination, then every session (which
// in turn rearms its transaction and redeclares its producers/consumers).
func (c *Connection) OnConnectionRecovery(ctx context.Context, providerHandle Provider) error {
	f := NewFuture(nil)
	providerHandle.Create(ctx, connResource(c.info.ID), c.info, f)
	if err := f.Wait(ctx); err != nil {
		return err
	}

	for _, td := range c.snapshotTempDests() {
		tf := NewFuture(nil)
		providerHandle.Create(ctx, tempDestResource(td.Name), td, tf)
		if err := tf.Wait(ctx); err != nil {
			return err
		}
	}

	for _, s := range c.snapshotSessions() {
		if err := s.onRecoveryDeclare(ctx, providerHandle); err != nil {
			return err
		}
	}
	return nil
}

// OnConnectionRecovered swaps in the new provider handle and finalizes
// every session.
func (c *Connection) OnConnectionRecovered(ctx context.Context, providerHandle Provider) error {
	c.setProvider(providerHandle)
	c.info.ConnectedURI = providerHandle.RemoteURI()
	for _, s := range c.snapshotSessions() {
		s.onRecoveredFinalize()
	}
	return nil
}

// OnConnectionRestored is the final phase of recovery: it resumes every
// consumer and fires listener callbacks.
func (c *Connection) OnConnectionRestored(uri string) {
	for _, s := range c.snapshotSessions() {
		s.onRestored()
	}
	if c.exec != nil {
		c.exec.Submit(func() {
			if c.connListener != nil {
				c.connListener.OnConnectionRestored(uri)
			}
		})
	}
}

// OnResourceClosed marks the corresponding resource's failure cause
// synchronously, then finishes its shutdown and notifies listeners on
// the executor.
func (c *Connection) OnResourceClosed(res Resource, cause error) {
	switch res.Kind {
	case ResourceSession:
		s := c.session(res.SessionID)
		if s == nil {
			return
		}
		s.markFailed(cause)
		if c.exec != nil {
			c.exec.Submit(func() {
				_ = s.shutdown(context.Background())
				c.removeSession(res.SessionID)
				if c.connListener != nil {
					c.connListener.OnSessionClosed(res.SessionID, cause)
				}
			})
		}
	case ResourceProducer:
		p := c.findProducer(res.ProducerID)
		if p == nil {
			return
		}
		p.markFailed(cause)
		if c.exec != nil {
			c.exec.Submit(func() {
				if c.connListener != nil {
					c.connListener.OnProducerClosed(res.ProducerID, cause)
				}
			})
		}
	case ResourceConsumer:
		cons := c.findConsumer(res.ConsumerID)
		if cons == nil {
			return
		}
		cons.markFailed(cause)
		if c.exec != nil {
			c.exec.Submit(func() {
				cons.markClosed()
				if c.connListener != nil {
					c.connListener.OnConsumerClosed(res.ConsumerID, cause)
				}
			})
		}
	case ResourceTempDestination:
		if td := c.tempDestination(res.TempDestName); td != nil {
			td.deleted.Store(true)
		}
	}
}

func (c *Connection) OnProviderException(cause error) {
	c.dispatchAsyncException(cause)
}

// OnConnectionFailure runs inline: set failed, capture the first cause,
// fan out the exception listener, fail every tracked request. Then,
// unless already closing/closed, on the executor: close the provider,
// fail late-arriving requests again, run full connection shutdown
// (recursing into sessions), and invoke the connection-failure listener.
func (c *Connection) OnConnectionFailure(ioErr error) {
	if !c.failed.CompareAndSwap(false, true) {
		return
	}
	cause := error(jmserr.NewConnectionFailed(ioErr))
	c.first.CompareAndSwap(nil, &cause)

	c.dispatchAsyncException(cause)
	c.tracker.failAll(cause)

	if c.closing.Load() || c.closed.Load() {
		return
	}
	if c.exec == nil {
		return
	}
	c.exec.Submit(func() {
		_ = c.Provider().Close(context.Background())
		c.tracker.failAll(cause)
		_ = c.shutdown(context.Background(), false, true)
		if c.connListener != nil {
			c.connListener.OnConnectionFailure(cause)
		}
	})
}
