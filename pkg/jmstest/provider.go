// Package jmstest ships an in-process fake Provider for driving client
// tests without a real broker. It runs entirely in memory: Create for a
// consumer wires up routing by destination name, Send delivers
// synchronously to every matching consumer, and Commit/Rollback just
// drain or discard a transaction's staged sends.
package jmstest

import (
	"context"
	"sync"

	"github.com/qpidgo/jmscore/pkg/jms"
	"github.com/qpidgo/jmscore/pkg/jmserr"
)

// Provider is a fake jms.Provider backed by in-process maps. Safe for
// concurrent use.
type Provider struct {
	mu sync.Mutex

	listener jms.ProviderListener

	started bool
	closed  bool

	remoteURI string

	consumersByDest map[string][]jms.ConsumerID
	consumerSession map[jms.ConsumerID]jms.SessionID

	pending map[jms.TransactionID][]*jms.OutboundEnvelope

	// FailCreate, when set, is returned by the next Create call and then
	// cleared — used to exercise createSession/createConsumer failure
	// paths without a real broker.
	FailCreate error

	// FailSend, when set, is returned by every Send call until cleared.
	FailSend error

	sendCount int
}

// New builds a fake Provider that reports remoteURI from RemoteURI().
func New(remoteURI string) *Provider {
	return &Provider{
		remoteURI:       remoteURI,
		consumersByDest: make(map[string][]jms.ConsumerID),
		consumerSession: make(map[jms.ConsumerID]jms.SessionID),
		pending:         make(map[jms.TransactionID][]*jms.OutboundEnvelope),
	}
}

func (p *Provider) SetListener(l jms.ProviderListener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return nil
}

func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *Provider) RemoteURI() string { return p.remoteURI }

func (p *Provider) MessageFactory() any { return nil }

func (p *Provider) Create(ctx context.Context, res jms.Resource, info any, f *jms.Future) {
	p.mu.Lock()
	if p.FailCreate != nil {
		err := p.FailCreate
		p.FailCreate = nil
		p.mu.Unlock()
		f.Complete(err)
		return
	}
	if res.Kind == jms.ResourceConsumer {
		if ci, ok := info.(jms.ConsumerInfo); ok {
			p.consumersByDest[ci.Destination.Name] = append(p.consumersByDest[ci.Destination.Name], res.ConsumerID)
			p.consumerSession[res.ConsumerID] = res.ConsumerID.Session
		}
	}
	if res.Kind == jms.ResourceTransaction {
		p.pending[res.TxID] = nil
	}
	p.mu.Unlock()
	f.Complete(nil)
}

func (p *Provider) StartResource(ctx context.Context, res jms.Resource, f *jms.Future) {
	f.Complete(nil)
}

func (p *Provider) StopResource(ctx context.Context, res jms.Resource, f *jms.Future) {
	f.Complete(nil)
}

func (p *Provider) Destroy(ctx context.Context, res jms.Resource, f *jms.Future) {
	p.mu.Lock()
	if res.Kind == jms.ResourceConsumer {
		for dest, ids := range p.consumersByDest {
			out := ids[:0]
			for _, id := range ids {
				if id != res.ConsumerID {
					out = append(out, id)
				}
			}
			p.consumersByDest[dest] = out
		}
		delete(p.consumerSession, res.ConsumerID)
	}
	if res.Kind == jms.ResourceTransaction {
		delete(p.pending, res.TxID)
	}
	p.mu.Unlock()
	f.Complete(nil)
}

// Send delivers env synchronously to every consumer currently registered
// against its destination, or stages it under env.Tx if one is set.
func (p *Provider) Send(ctx context.Context, env *jms.OutboundEnvelope, f *jms.Future) {
	p.mu.Lock()
	if p.FailSend != nil {
		err := p.FailSend
		p.mu.Unlock()
		f.Complete(err)
		return
	}
	p.sendCount++
	if env.Tx != nil {
		p.pending[*env.Tx] = append(p.pending[*env.Tx], env)
		p.mu.Unlock()
		f.Complete(nil)
		return
	}
	targets := append([]jms.ConsumerID(nil), p.consumersByDest[env.Destination.Name]...)
	listener := p.listener
	p.mu.Unlock()

	p.deliver(listener, targets, env)
	f.Complete(nil)
}

func (p *Provider) deliver(listener jms.ProviderListener, targets []jms.ConsumerID, env *jms.OutboundEnvelope) {
	if listener == nil {
		return
	}
	for _, cid := range targets {
		listener.OnInboundMessage(&jms.InboundEnvelope{
			Consumer:   cid,
			Message:    env.Message,
			DispatchID: env.DispatchID,
		})
	}
}

func (p *Provider) AcknowledgeEnvelope(ctx context.Context, env *jms.InboundEnvelope, ack jms.AckType, f *jms.Future) {
	f.Complete(nil)
}

func (p *Provider) AcknowledgeSession(ctx context.Context, session jms.SessionID, ack jms.AckType, f *jms.Future) {
	f.Complete(nil)
}

// Commit flushes every envelope staged under tx to its consumers.
func (p *Provider) Commit(ctx context.Context, tx jms.TransactionID, f *jms.Future) {
	p.mu.Lock()
	staged := p.pending[tx]
	delete(p.pending, tx)
	listener := p.listener
	byDest := make(map[string][]jms.ConsumerID, len(p.consumersByDest))
	for k, v := range p.consumersByDest {
		byDest[k] = append([]jms.ConsumerID(nil), v...)
	}
	p.mu.Unlock()

	for _, env := range staged {
		p.deliver(listener, byDest[env.Destination.Name], env)
	}
	f.Complete(nil)
}

// Rollback discards every envelope staged under tx without delivering it.
func (p *Provider) Rollback(ctx context.Context, tx jms.TransactionID, f *jms.Future) {
	p.mu.Lock()
	delete(p.pending, tx)
	p.mu.Unlock()
	f.Complete(nil)
}

func (p *Provider) Recover(ctx context.Context, session jms.SessionID, f *jms.Future) {
	f.Complete(nil)
}

func (p *Provider) Pull(ctx context.Context, consumer jms.ConsumerID, timeoutMillis int64, f *jms.Future) {
	f.Complete(nil)
}

func (p *Provider) Unsubscribe(ctx context.Context, name string, f *jms.Future) {
	f.Complete(nil)
}

// InjectInterruption drives the full interrupted -> recovery -> recovered
// -> restored sequence against listener, simulating a transient provider
// reconnect. replacement becomes the new active provider handle.
func (p *Provider) InjectInterruption(ctx context.Context, replacement *Provider) error {
	p.mu.Lock()
	listener := p.listener
	uri := p.remoteURI
	p.mu.Unlock()
	if listener == nil {
		return jmserr.NewIllegalState("no listener registered")
	}
	listener.OnConnectionInterrupted(uri)
	if err := listener.OnConnectionRecovery(ctx, replacement); err != nil {
		return err
	}
	if err := listener.OnConnectionRecovered(ctx, replacement); err != nil {
		return err
	}
	listener.OnConnectionRestored(replacement.remoteURI)
	return nil
}

// InjectFailure reports a fatal provider failure to the listener.
func (p *Provider) InjectFailure(cause error) {
	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()
	if listener != nil {
		listener.OnConnectionFailure(cause)
	}
}

// SendCount reports how many Send calls have completed, for test
// assertions.
func (p *Provider) SendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendCount
}
