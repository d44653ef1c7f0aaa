package jms

import "context"

// Provider is the downstream contract this core drives. The wire
// encoder/decoder, socket I/O, and reconnection policy behind it are an
// opaque collaborator's concern — this core only ever talks to this
// interface and the ConnectionListener callbacks it drives in return.
type Provider interface {
	// SetListener registers the collaborator the provider drives its own
	// callbacks into (always the owning Connection). Called once, before
	// Start.
	SetListener(l ProviderListener)

	Start(ctx context.Context) error
	Close(ctx context.Context) error

	Create(ctx context.Context, res Resource, info any, f *Future)
	StartResource(ctx context.Context, res Resource, f *Future)
	StopResource(ctx context.Context, res Resource, f *Future)
	Destroy(ctx context.Context, res Resource, f *Future)

	Send(ctx context.Context, env *OutboundEnvelope, f *Future)
	AcknowledgeEnvelope(ctx context.Context, env *InboundEnvelope, ack AckType, f *Future)
	AcknowledgeSession(ctx context.Context, session SessionID, ack AckType, f *Future)

	Commit(ctx context.Context, tx TransactionID, f *Future)
	Rollback(ctx context.Context, tx TransactionID, f *Future)

	Recover(ctx context.Context, session SessionID, f *Future)
	Pull(ctx context.Context, consumer ConsumerID, timeoutMillis int64, f *Future)
	Unsubscribe(ctx context.Context, name string, f *Future)

	MessageFactory() any
	RemoteURI() string
}

// ProviderListener is implemented by the core and driven by the provider
// on its own threads. Implementations must never block — the provider
// must never be made to wait on application code.
type ProviderListener interface {
	OnInboundMessage(env *InboundEnvelope)
	OnConnectionInterrupted(uri string)
	OnConnectionRecovery(ctx context.Context, providerHandle Provider) error
	OnConnectionRecovered(ctx context.Context, providerHandle Provider) error
	OnConnectionRestored(uri string)
	OnConnectionEstablished(uri string)
	OnConnectionFailure(ioErr error)
	OnResourceClosed(res Resource, cause error)
	OnProviderException(cause error)
}

// ExceptionListener is the application-facing hook for async exceptions
// ("onAsyncException").
type ExceptionListener func(err error)

// ConnectionListener receives the typed connection lifecycle events this
// core fans out on its executor.
type ConnectionListener interface {
	OnConnectionInterrupted(uri string)
	OnConnectionRestored(uri string)
	OnConnectionFailure(err error)
	OnSessionClosed(session SessionID, cause error)
	OnProducerClosed(producer ProducerID, cause error)
	OnConsumerClosed(consumer ConsumerID, cause error)
}

// MessageListener is a session/consumer's async delivery callback.
type MessageListener func(env *InboundEnvelope)
