package jms

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/qpidgo/jmscore/pkg/jmserr"
)

// SendOptions bundles the per-message send parameters that Send needs to
// stamp headers and decide sync/async: delivery mode, priority,
// time-to-live, and the message-id/timestamp disable toggles.
type SendOptions struct {
	Persistent       bool
	Priority         int
	TimeToLive       time.Duration
	DisableMessageID bool
	DisableTimestamp bool
}

// DefaultSendOptions mirrors the standard message-service defaults:
// persistent delivery, priority 4, no expiration.
func DefaultSendOptions() SendOptions {
	return SendOptions{Persistent: true, Priority: 4}
}

// Cloneable is the optional hook a Message implements to copy itself (or
// transform into a native representation) before Send hands it to the
// provider. The concrete transform is a message-factory concern this
// core doesn't need to know about beyond this single seam.
type Cloneable interface {
	Clone() Message
}

// Session is the per-connection session state machine: producer and
// consumer registry, dispatch buffering, and transaction context.
type Session struct {
	info    SessionInfo
	connRef weak.Pointer[Connection]
	logger  Logger

	tx TransactionContext

	producerSeq idSequence
	consumerSeq idSequence

	mu        sync.RWMutex
	producers map[ProducerID]*Producer
	consumers map[ConsumerID]*Consumer

	queue     *dispatchQueue
	deliverMu sync.Mutex

	started atomic.Bool
	closing atomic.Bool
	closed  atomic.Bool
	failed  atomic.Pointer[error]

	sessionRecovered atomic.Bool

	sendLock sync.Mutex

	listenerOnce sync.Once
	listenerExec *executor
}

func newSession(conn *Connection, info SessionInfo) *Session {
	s := &Session{
		info:      info,
		connRef:   weak.Make(conn),
		logger:    conn.logger,
		producers: make(map[ProducerID]*Producer),
		consumers: make(map[ConsumerID]*Consumer),
		queue:     newDispatchQueue(),
	}
	if info.AckMode == Transacted {
		s.tx = newLocalTx(info.ID.Conn, &idSequence{}, conn.logger)
	} else {
		s.tx = newNoneTx()
	}
	return s
}

// conn dereferences the weak back-reference to the owning Connection:
// sessions hold a weak handle so the Connection -> Session strong
// ownership never becomes a retain cycle.
// Returns nil only if the connection has already been garbage collected,
// which cannot happen while the connection itself is reachable (it is
// always held by the caller that obtained this Session).
func (s *Session) conn() *Connection { return s.connRef.Value() }

func (s *Session) ID() SessionID    { return s.info.ID }
func (s *Session) AckMode() AckMode { return s.info.AckMode }

func (s *Session) markFailed(cause error) { s.failed.Store(&cause) }

func (s *Session) failureCause() error {
	if p := s.failed.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Session) checkOpen() error {
	if cause := s.failureCause(); cause != nil {
		return jmserr.NewConnectionFailed(cause)
	}
	if s.closed.Load() || s.closing.Load() {
		return jmserr.NewIllegalState("session %s is closed", s.info.ID)
	}
	return nil
}

func (s *Session) ensureListenerExecutor() {
	s.listenerOnce.Do(func() { s.listenerExec = newExecutor() })
}

func (s *Session) listenerExecutor() *executor {
	s.ensureListenerExecutor()
	return s.listenerExec
}

func (s *Session) snapshotConsumers() []*Consumer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		out = append(out, c)
	}
	return out
}

func (s *Session) snapshotProducers() []*Producer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Producer, 0, len(s.producers))
	for _, p := range s.producers {
		out = append(out, p)
	}
	return out
}

func (s *Session) producer(id ProducerID) *Producer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.producers[id]
}

func (s *Session) consumer(id ConsumerID) *Consumer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consumers[id]
}

// --- creation ---------------------------------------------------------

func (s *Session) createConsumer(ctx context.Context, dest Destination, selector, durableName string, noLocal bool) (*Consumer, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if dest.Name == "" {
		return nil, jmserr.NewInvalidDestination("destination must not be empty")
	}
	conn := s.conn()
	if conn == nil {
		return nil, jmserr.NewIllegalState("connection no longer available")
	}
	if v := conn.info.Policies.SelectorValidator; v != nil && selector != "" {
		if err := v(selector); err != nil {
			return nil, jmserr.Wrap(jmserr.InvalidSelector, "selector parse failed", err)
		}
	}
	var td *TemporaryDestination
	if dest.Temporary {
		td = conn.tempDestination(dest.Name)
		if td == nil || td.isDeleted() {
			return nil, jmserr.NewInvalidDestination("temporary destination %s is deleted or foreign to this connection", dest.Name)
		}
	}

	seq := s.consumerSeq.nextSeq()
	cid := ConsumerID{Session: s.info.ID, Seq: seq}
	info := ConsumerInfo{ID: cid, Destination: dest, Selector: selector, NoLocal: noLocal, DurableName: durableName}

	if err := conn.createResource(ctx, consumerResource(cid), info); err != nil {
		return nil, err
	}

	c := newConsumer(s, info, td)
	s.mu.Lock()
	s.consumers[cid] = c
	s.mu.Unlock()

	if s.started.Load() {
		if err := s.startConsumer(ctx, c); err != nil {
			s.logger.Log(LogLevelWarn, "failed to start consumer on create", "consumer", cid, "err", err)
		}
	}
	return c, nil
}

// CreateConsumer creates a non-durable consumer on dest.
func (s *Session) CreateConsumer(ctx context.Context, dest Destination, selector string, noLocal bool) (*Consumer, error) {
	return s.createConsumer(ctx, dest, selector, "", noLocal)
}

// CreateDurableSubscriber creates a named durable consumer: requires a
// topic destination and an explicit client id.
func (s *Session) CreateDurableSubscriber(ctx context.Context, dest Destination, name, selector string, noLocal bool) (*Consumer, error) {
	if dest.Kind != Topic {
		return nil, jmserr.NewInvalidDestination("durable subscriber requires a topic destination")
	}
	conn := s.conn()
	if conn == nil {
		return nil, jmserr.NewIllegalState("connection no longer available")
	}
	if id, set := conn.info.ClientID(); !set || id == "" {
		return nil, jmserr.NewIllegalState("durable subscriber requires an explicit client id")
	}
	return s.createConsumer(ctx, dest, selector, name, noLocal)
}

// CreateProducer creates a producer bound to dest, or an anonymous
// producer if dest is nil.
func (s *Session) CreateProducer(ctx context.Context, dest *Destination) (*Producer, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	conn := s.conn()
	if conn == nil {
		return nil, jmserr.NewIllegalState("connection no longer available")
	}
	seq := s.producerSeq.nextSeq()
	pid := ProducerID{Session: s.info.ID, Seq: seq}
	info := ProducerInfo{ID: pid, Destination: dest}
	if err := conn.createResource(ctx, producerResource(pid), info); err != nil {
		return nil, err
	}
	p := newProducer(s, info)
	s.mu.Lock()
	s.producers[pid] = p
	s.mu.Unlock()
	return p, nil
}

// --- send ---------------------------------------------------------------

// Send stamps headers onto msg, resolves sync-vs-async delivery, and hands
// the result to the session's transaction context.
func (s *Session) Send(ctx context.Context, p *Producer, dest *Destination, msg Message, opts SendOptions) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if p.isClosed() {
		return jmserr.NewIllegalState("producer %s is closed", p.ID())
	}
	conn := s.conn()
	if conn == nil {
		return jmserr.NewIllegalState("connection no longer available")
	}

	// step 1: validate destination
	target := dest
	if target == nil {
		target = p.Destination()
	}
	if target == nil {
		return jmserr.NewInvalidDestination("no destination bound to producer %s and none given", p.ID())
	}
	if target.Temporary {
		if td := conn.tempDestination(target.Name); td == nil || td.isDeleted() {
			return jmserr.NewIllegalState("cannot send to deleted temporary destination %s", target.Name)
		}
	}

	s.sendLock.Lock()
	defer s.sendLock.Unlock()

	// step 2: stamp headers
	now := time.Now()
	msg.SetDeliveryMode(opts.Persistent)
	msg.SetPriority(opts.Priority)
	msg.SetRedelivered(false)
	msg.SetDestination(*target)
	if opts.DisableTimestamp {
		msg.SetTimestamp(time.Time{})
	} else {
		msg.SetTimestamp(now)
	}
	if opts.TimeToLive > 0 {
		msg.SetExpiration(now.Add(opts.TimeToLive))
	} else {
		msg.SetExpiration(time.Time{})
	}

	// step 3: allocate sequence, build message id unless disabled
	seq := p.nextMessageSeq()
	if !opts.DisableMessageID && conn.info.Policies.MessageIDPolicy != nil {
		msg.SetMessageID(conn.info.Policies.MessageIDPolicy(p.ID(), seq))
	}

	// step 4: copy/transform, overwrite user id
	if cl, ok := msg.(Cloneable); ok {
		msg = cl.Clone()
	}
	if conn.info.Toggles.PopulateUserID {
		msg.SetUserID(conn.info.Credentials.Username)
	} else {
		msg.SetUserID("")
	}

	// step 5: sync vs async
	toggles := conn.info.Toggles
	sync := toggles.ForceSyncSend ||
		(!toggles.ForceAsyncSend && opts.Persistent && s.info.AckMode != Transacted)

	// step 6: build envelope
	presettle := false
	if p.Destination() == nil && conn.info.Policies.PresettlePolicy != nil {
		presettle = conn.info.Policies.PresettlePolicy(p.ID(), *target)
	}
	env := &OutboundEnvelope{
		Producer:    p.ID(),
		Destination: *target,
		Message:     msg,
		DispatchID:  seq,
		Presettle:   presettle,
		Async:       !sync,
	}

	// step 7: hand to the transaction context
	f := NewFuture(nil)
	s.tx.Send(ctx, conn.Provider(), env, f)

	if !sync {
		go func() {
			if err := f.Wait(context.Background()); err != nil {
				p.markFailed(err)
				conn.dispatchAsyncException(err)
			}
		}()
		return nil
	}
	if err := f.Wait(ctx); err != nil {
		return err
	}
	return nil
}

// --- acknowledge / recover / commit / rollback --------------------------

// AcknowledgeEnvelope settles a single envelope.
func (s *Session) AcknowledgeEnvelope(ctx context.Context, env *InboundEnvelope, ack AckType) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	conn := s.conn()
	if conn == nil {
		return jmserr.NewIllegalState("connection no longer available")
	}
	f := NewFuture(nil)
	s.tx.AcknowledgeEnvelope(ctx, conn.Provider(), env, ack, f)
	return f.Wait(ctx)
}

// AcknowledgeSession settles every delivered envelope on this session
// (CLIENT_ACK-style bulk acknowledge).
func (s *Session) AcknowledgeSession(ctx context.Context, ack AckType) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	conn := s.conn()
	if conn == nil {
		return jmserr.NewIllegalState("connection no longer available")
	}
	f := NewFuture(nil)
	s.tx.AcknowledgeSession(ctx, conn.Provider(), s.info.ID, ack, f)
	return f.Wait(ctx)
}

// requestPull asks the provider for one credit against consumer via its
// Pull method. timeoutMillis 0 blocks until either the provider grants it
// or ctx ends.
func (s *Session) requestPull(ctx context.Context, consumer ConsumerID, timeoutMillis int64) error {
	conn := s.conn()
	if conn == nil {
		return jmserr.NewIllegalState("connection no longer available")
	}
	return conn.doRequest(ctx, func(ctx context.Context, f *Future) {
		conn.Provider().Pull(ctx, consumer, timeoutMillis, f)
	})
}

// Recover asks the provider to redeliver unacknowledged messages; only
// valid on a non-transactional session.
func (s *Session) Recover(ctx context.Context) error {
	if s.info.AckMode == Transacted {
		return jmserr.NewIllegalState("recover is not allowed on a transacted session")
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	conn := s.conn()
	if conn == nil {
		return jmserr.NewIllegalState("connection no longer available")
	}
	err := conn.doRequest(ctx, func(ctx context.Context, f *Future) {
		conn.Provider().Recover(ctx, s.info.ID, f)
	})
	if err == nil {
		s.sessionRecovered.Store(true)
	}
	return err
}

// Commit commits the session's current transaction for a transacted
// session.
func (s *Session) Commit(ctx context.Context) error {
	if s.info.AckMode != Transacted {
		return jmserr.NewIllegalState("commit is not allowed on a non-transacted session")
	}
	conn := s.conn()
	if conn == nil {
		return jmserr.NewIllegalState("connection no longer available")
	}
	return s.tx.Commit(ctx, conn.Provider())
}

// Rollback suspends every consumer, rolls back and rearms the
// transaction, then resumes every consumer regardless of whether
// rollback succeeded.
func (s *Session) Rollback(ctx context.Context) error {
	if s.info.AckMode != Transacted {
		return jmserr.NewIllegalState("rollback is not allowed on a non-transacted session")
	}
	conn := s.conn()
	if conn == nil {
		return jmserr.NewIllegalState("connection no longer available")
	}

	consumers := s.snapshotConsumers()
	for _, c := range consumers {
		c.suspend()
	}
	err := s.tx.Rollback(ctx, conn.Provider())
	for _, c := range consumers {
		c.resume()
	}
	return err
}

// Unsubscribe delegates to the owning connection after checking that no
// active consumer on this session holds the given durable name.
func (s *Session) Unsubscribe(ctx context.Context, name string) error {
	for _, c := range s.snapshotConsumers() {
		if c.DurableName() == name && !c.isClosed() {
			return jmserr.NewIllegalState("durable subscription %q is in use", name)
		}
	}
	conn := s.conn()
	if conn == nil {
		return jmserr.NewIllegalState("connection no longer available")
	}
	return conn.Unsubscribe(ctx, name)
}

// --- start/stop/close ----------------------------------------------------

func (s *Session) startConsumer(ctx context.Context, c *Consumer) error {
	conn := s.conn()
	if conn == nil {
		return jmserr.NewIllegalState("connection no longer available")
	}
	if err := conn.startResource(ctx, consumerResource(c.ID())); err != nil {
		return err
	}
	c.started.Store(true)
	return nil
}

func (s *Session) stopConsumer(ctx context.Context, c *Consumer) error {
	conn := s.conn()
	if conn == nil {
		return jmserr.NewIllegalState("connection no longer available")
	}
	c.started.Store(false)
	return conn.stopResource(ctx, consumerResource(c.ID()))
}

// Start transitions CREATED/STOPPED -> STARTED: drains the dispatch queue
// then starts every consumer in turn.
func (s *Session) Start(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.deliverMu.Lock()
	s.started.Store(true)
	drained := s.queue.Drain()
	for _, env := range drained {
		s.dispatch(env)
	}
	s.deliverMu.Unlock()

	for _, c := range s.snapshotConsumers() {
		if err := s.startConsumer(ctx, c); err != nil {
			s.logger.Log(LogLevelWarn, "failed to start consumer", "consumer", c.ID(), "err", err)
		}
	}
	return nil
}

// Stop transitions STARTED -> STOPPED; idempotent, producers unaffected.
func (s *Session) Stop(ctx context.Context) error {
	s.deliverMu.Lock()
	s.started.Store(false)
	s.deliverMu.Unlock()

	for _, c := range s.snapshotConsumers() {
		_ = s.stopConsumer(ctx, c)
	}
	return nil
}

func (s *Session) closeConsumer(c *Consumer) error {
	s.mu.Lock()
	delete(s.consumers, c.ID())
	s.mu.Unlock()
	c.markClosed()
	conn := s.conn()
	if conn == nil {
		return nil
	}
	return conn.destroyResource(context.Background(), consumerResource(c.ID()))
}

func (s *Session) closeProducer(p *Producer) error {
	s.mu.Lock()
	delete(s.producers, p.ID())
	s.mu.Unlock()
	p.closed.Store(true)
	conn := s.conn()
	if conn == nil {
		return nil
	}
	return conn.destroyResource(context.Background(), producerResource(p.ID()))
}

// shutdown drains consumers then producers then destroys the session
// resource remotely.
func (s *Session) shutdown(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	if s.listenerExec != nil {
		defer s.listenerExec.Shutdown()
	}
	for _, c := range s.snapshotConsumers() {
		_ = s.closeConsumer(c)
	}
	for _, p := range s.snapshotProducers() {
		_ = s.closeProducer(p)
	}

	var err error
	if s.failureCause() == nil {
		conn := s.conn()
		if conn != nil {
			err = conn.destroyResource(ctx, sessionResource(s.info.ID))
		}
	}
	s.closed.Store(true)
	return err
}

// Close is the public, idempotent session close.
func (s *Session) Close(ctx context.Context) error {
	err := s.shutdown(ctx)
	if conn := s.conn(); conn != nil {
		conn.removeSession(s.info.ID)
	}
	return err
}

// --- inbound routing ------------------------------------------------------

// routeInbound is invoked by the owning Connection for every envelope
// arriving for a consumer on this session: buffer while stopped, deliver
// in order while started.
func (s *Session) routeInbound(env *InboundEnvelope) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if !s.started.Load() {
		if err := s.queue.Push(env); err != nil {
			s.logger.Log(LogLevelError, "dispatch queue overflow", "consumer", env.Consumer, "err", err)
			if conn := s.conn(); conn != nil {
				conn.dispatchAsyncException(err)
			}
		}
		return
	}
	s.dispatch(env)
}

// dispatch hands env to its consumer, wiring the acknowledge hook so
// InboundEnvelope.Acknowledge routes back through this session.
func (s *Session) dispatch(env *InboundEnvelope) {
	c := s.consumer(env.Consumer)
	if c == nil {
		s.logger.Log(LogLevelWarn, "envelope for unknown consumer dropped", "consumer", env.Consumer)
		return
	}
	env.ackFunc = func(ack AckType) error {
		return s.AcknowledgeEnvelope(context.Background(), env, ack)
	}
	c.offer(env)
}

// --- interruption / recovery ---------------------------------------------

// onInterrupted notifies producers/consumers and the transaction context
// of a provider interruption.
func (s *Session) onInterrupted() {
	s.tx.OnInterrupted()
	for _, c := range s.snapshotConsumers() {
		c.suspend()
	}
}

// onRestored resumes consumers after the provider's recovery sequence
// completes.
func (s *Session) onRestored() {
	for _, c := range s.snapshotConsumers() {
		c.resume()
	}
}

// onRecoveryDeclare re-declares this session's state against the new
// provider handle: session info, a fresh transaction (for transacted
// sessions), every producer, then every consumer, in that order.
func (s *Session) onRecoveryDeclare(ctx context.Context, p Provider) error {
	f := NewFuture(nil)
	p.Create(ctx, sessionResource(s.info.ID), s.info, f)
	if err := f.Wait(ctx); err != nil {
		return err
	}
	if err := s.tx.Rearm(ctx, p); err != nil {
		return err
	}
	for _, prod := range s.snapshotProducers() {
		pf := NewFuture(nil)
		p.Create(ctx, producerResource(prod.ID()), prod.info, pf)
		if err := pf.Wait(ctx); err != nil {
			return err
		}
	}
	for _, c := range s.snapshotConsumers() {
		cf := NewFuture(nil)
		p.Create(ctx, consumerResource(c.ID()), c.info, cf)
		if err := cf.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// onRecoveredFinalize clears stale failure markers now that recovery has
// completed successfully.
func (s *Session) onRecoveredFinalize() {
	for _, p := range s.snapshotProducers() {
		p.failed.Store(nil)
	}
	for _, c := range s.snapshotConsumers() {
		c.failed.Store(nil)
	}
}
