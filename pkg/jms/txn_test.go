package jms

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubTxProvider implements just enough of Provider to drive localTx in
// isolation; every call completes its Future based on the configured
// failure knobs.
type stubTxProvider struct {
	createErr   error
	commitErr   error
	rollbackErr error

	createCalls   int
	commitCalls   int
	rollbackCalls int
}

func (s *stubTxProvider) SetListener(ProviderListener)  {}
func (s *stubTxProvider) Start(context.Context) error   { return nil }
func (s *stubTxProvider) Close(context.Context) error   { return nil }
func (s *stubTxProvider) MessageFactory() any           { return nil }
func (s *stubTxProvider) RemoteURI() string             { return "stub://" }

func (s *stubTxProvider) Create(ctx context.Context, res Resource, info any, f *Future) {
	s.createCalls++
	f.Complete(s.createErr)
}
func (s *stubTxProvider) StartResource(context.Context, Resource, *Future) {}
func (s *stubTxProvider) StopResource(context.Context, Resource, *Future)  {}
func (s *stubTxProvider) Destroy(context.Context, Resource, *Future)       {}

func (s *stubTxProvider) Send(ctx context.Context, env *OutboundEnvelope, f *Future) { f.Complete(nil) }
func (s *stubTxProvider) AcknowledgeEnvelope(ctx context.Context, env *InboundEnvelope, ack AckType, f *Future) {
	f.Complete(nil)
}
func (s *stubTxProvider) AcknowledgeSession(ctx context.Context, session SessionID, ack AckType, f *Future) {
	f.Complete(nil)
}

func (s *stubTxProvider) Commit(ctx context.Context, tx TransactionID, f *Future) {
	s.commitCalls++
	f.Complete(s.commitErr)
}
func (s *stubTxProvider) Rollback(ctx context.Context, tx TransactionID, f *Future) {
	s.rollbackCalls++
	f.Complete(s.rollbackErr)
}
func (s *stubTxProvider) Recover(context.Context, SessionID, *Future)                 {}
func (s *stubTxProvider) Pull(context.Context, ConsumerID, int64, *Future)            {}
func (s *stubTxProvider) Unsubscribe(context.Context, string, *Future)                {}

func TestNoneTxCommitRollbackAreIllegalState(t *testing.T) {
	tx := newNoneTx()
	require.Error(t, tx.Commit(context.Background(), &stubTxProvider{}))
	require.Error(t, tx.Rollback(context.Background(), &stubTxProvider{}))
	_, ok := tx.Current()
	require.False(t, ok)
}

func TestLocalTxRearmAlwaysInstallsAFreshID(t *testing.T) {
	seq := &idSequence{}
	tx := newLocalTx(ConnectionID("c1"), seq, NopLogger())
	p := &stubTxProvider{createErr: errors.New("declare failed")}

	err := tx.Rearm(context.Background(), p)
	require.Error(t, err)
	require.True(t, tx.InDoubt())

	id, ok := tx.Current()
	require.True(t, ok)
	require.Equal(t, ConnectionID("c1"), id.Conn)
}

func TestLocalTxCommitAlwaysRearmsEvenOnFailure(t *testing.T) {
	seq := &idSequence{}
	tx := newLocalTx(ConnectionID("c1"), seq, NopLogger())
	p := &stubTxProvider{}
	require.NoError(t, tx.Rearm(context.Background(), p))

	first, _ := tx.Current()
	p.commitErr = errors.New("commit rejected")

	err := tx.Commit(context.Background(), p)
	require.Error(t, err)

	second, _ := tx.Current()
	require.NotEqual(t, first, second, "commit failure must still roll over to a fresh transaction id")
	require.True(t, tx.InDoubt(), "a failed commit leaves the context in-doubt until the next rearm")
}

func TestLocalTxOnInterruptedDoomsCurrentTransaction(t *testing.T) {
	seq := &idSequence{}
	tx := newLocalTx(ConnectionID("c1"), seq, NopLogger())
	p := &stubTxProvider{}
	require.NoError(t, tx.Rearm(context.Background(), p))

	tx.OnInterrupted()
	require.True(t, tx.InDoubt())

	f := NewFuture(nil)
	tx.Send(context.Background(), p, &OutboundEnvelope{}, f)
	require.Error(t, f.Wait(context.Background()), "sends must be gated while the transaction is doomed")

	require.NoError(t, tx.Rearm(context.Background(), p))
	require.False(t, tx.InDoubt())
}
