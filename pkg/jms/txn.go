package jms

import (
	"context"
	"sync"

	"github.com/qpidgo/jmscore/pkg/jmserr"
)

// TransactionContext is the per-session commit/rollback collaborator. It
// has two variants — noneTx (non-transacted sessions) and localTx
// (TRANSACTED sessions): a transacted session always has an open
// transaction, and commit/rollback atomically replace it with a fresh
// one even when the underlying provider call fails.
type TransactionContext interface {
	// Send tags env with the current transaction (a no-op for noneTx)
	// and forwards it to the provider.
	Send(ctx context.Context, p Provider, env *OutboundEnvelope, f *Future)

	// AcknowledgeEnvelope and AcknowledgeSession mirror Send for the two
	// provider acknowledge overloads.
	AcknowledgeEnvelope(ctx context.Context, p Provider, env *InboundEnvelope, ack AckType, f *Future)
	AcknowledgeSession(ctx context.Context, p Provider, session SessionID, ack AckType, f *Future)

	Commit(ctx context.Context, p Provider) error
	Rollback(ctx context.Context, p Provider) error

	// Current reports the transaction currently in effect, if any.
	Current() (TransactionID, bool)

	// OnInterrupted records that the current transaction is doomed
	// because the broker lost it.
	OnInterrupted()

	// Rearm allocates and declares a fresh transaction id. Called once
	// at session creation for localTx, and again by the connection
	// recovery driver before any producer/consumer is replayed.
	Rearm(ctx context.Context, p Provider) error

	// InDoubt reports whether the last commit/rollback could not be
	// discharged, meaning sends must fail until Rearm runs again.
	InDoubt() bool
}

// errNotTransacted is returned by noneTx's Commit/Rollback.
func errNotTransacted() error {
	return jmserr.NewIllegalState("session is not transacted")
}

// noneTx is the no-op variant: commit/rollback fail, send/acknowledge
// pass straight through untagged.
type noneTx struct{}

func newNoneTx() TransactionContext { return noneTx{} }

func (noneTx) Send(ctx context.Context, p Provider, env *OutboundEnvelope, f *Future) {
	env.Tx = nil
	p.Send(ctx, env, f)
}

func (noneTx) AcknowledgeEnvelope(ctx context.Context, p Provider, env *InboundEnvelope, ack AckType, f *Future) {
	env.Tx = nil
	p.AcknowledgeEnvelope(ctx, env, ack, f)
}

func (noneTx) AcknowledgeSession(ctx context.Context, p Provider, session SessionID, ack AckType, f *Future) {
	p.AcknowledgeSession(ctx, session, ack, f)
}

func (noneTx) Commit(context.Context, Provider) error   { return errNotTransacted() }
func (noneTx) Rollback(context.Context, Provider) error { return errNotTransacted() }
func (noneTx) Current() (TransactionID, bool)           { return TransactionID{}, false }
func (noneTx) OnInterrupted()                           {}
func (noneTx) Rearm(context.Context, Provider) error    { return nil }
func (noneTx) InDoubt() bool                            { return false }

// localTx is the TRANSACTED variant.
type localTx struct {
	connID ConnectionID
	seq    *idSequence
	logger Logger

	mu      sync.Mutex
	current TransactionID
	doomed  bool
	inDoubt bool
}

func newLocalTx(connID ConnectionID, seq *idSequence, logger Logger) *localTx {
	return &localTx{connID: connID, seq: seq, logger: logger}
}

func (t *localTx) Current() (TransactionID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, true
}

func (t *localTx) gated() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inDoubt || t.doomed {
		return jmserr.NewIllegalState("transaction %s is in-doubt; awaiting recovery rearm", t.current)
	}
	return nil
}

func (t *localTx) Send(ctx context.Context, p Provider, env *OutboundEnvelope, f *Future) {
	if err := t.gated(); err != nil {
		f.Complete(err)
		return
	}
	tx, _ := t.Current()
	env.Tx = &tx
	p.Send(ctx, env, f)
}

func (t *localTx) AcknowledgeEnvelope(ctx context.Context, p Provider, env *InboundEnvelope, ack AckType, f *Future) {
	if err := t.gated(); err != nil {
		f.Complete(err)
		return
	}
	tx, _ := t.Current()
	env.Tx = &tx
	p.AcknowledgeEnvelope(ctx, env, ack, f)
}

func (t *localTx) AcknowledgeSession(ctx context.Context, p Provider, session SessionID, ack AckType, f *Future) {
	if err := t.gated(); err != nil {
		f.Complete(err)
		return
	}
	p.AcknowledgeSession(ctx, session, ack, f)
}

// Rearm allocates a fresh TransactionID and asks the provider to create
// it. It always installs the new id locally even if the provider create
// fails: a failed declare is recorded via inDoubt instead of leaving
// the context without any transaction at all.
func (t *localTx) Rearm(ctx context.Context, p Provider) error {
	next := TransactionID{Conn: t.connID, Seq: t.seq.nextSeq()}

	f := NewFuture(nil)
	p.Create(ctx, txResource(next), nil, f)
	err := f.Wait(ctx)

	t.mu.Lock()
	t.current = next
	t.doomed = false
	t.inDoubt = err != nil
	t.mu.Unlock()

	if err != nil {
		t.logger.Log(LogLevelWarn, "failed to declare new transaction; context is in-doubt", "tx", next, "err", err)
	} else {
		t.logger.Log(LogLevelDebug, "declared new transaction", "tx", next)
	}
	return err
}

func (t *localTx) endAndRearm(ctx context.Context, p Provider, end func(ctx context.Context, tx TransactionID, f *Future)) error {
	tx, _ := t.Current()

	f := NewFuture(nil)
	end(ctx, tx, f)
	endErr := f.Wait(ctx)

	// Always rearm, even if the end call failed: the context must never
	// be left with no usable next transaction.
	rearmErr := t.Rearm(ctx, p)

	if endErr != nil {
		// The old transaction was not discharged: the context stays
		// in-doubt until the next Rearm.
		t.mu.Lock()
		t.inDoubt = true
		t.mu.Unlock()
		return endErr
	}
	return rearmErr
}

func (t *localTx) Commit(ctx context.Context, p Provider) error {
	return t.endAndRearm(ctx, p, p.Commit)
}

func (t *localTx) Rollback(ctx context.Context, p Provider) error {
	return t.endAndRearm(ctx, p, p.Rollback)
}

// OnInterrupted marks the current transaction doomed; the connection
// recovery driver must Rearm before replaying any producer/consumer.
func (t *localTx) OnInterrupted() {
	t.mu.Lock()
	t.doomed = true
	t.mu.Unlock()
}

func (t *localTx) InDoubt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inDoubt || t.doomed
}
