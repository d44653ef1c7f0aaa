package jms

// ResourceKind tags a Resource's concrete identity so onResourceClosed and
// the create/start/stop/destroy helpers can dispatch on the tag instead of
// downcasting.
type ResourceKind int8

const (
	ResourceConnection ResourceKind = iota
	ResourceSession
	ResourceProducer
	ResourceConsumer
	ResourceTempDestination
	ResourceTransaction
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceConnection:
		return "connection"
	case ResourceSession:
		return "session"
	case ResourceProducer:
		return "producer"
	case ResourceConsumer:
		return "consumer"
	case ResourceTempDestination:
		return "temp-destination"
	case ResourceTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// Resource is the tagged-variant handle passed to the provider's
// create/start/stop/destroy calls and returned from onResourceClosed.
// Exactly one of the typed ID fields is populated, selected by Kind.
type Resource struct {
	Kind ResourceKind

	ConnectionID ConnectionID
	SessionID    SessionID
	ProducerID   ProducerID
	ConsumerID   ConsumerID
	TempDestName string
	TxID         TransactionID
}

func connResource(id ConnectionID) Resource {
	return Resource{Kind: ResourceConnection, ConnectionID: id}
}

func sessionResource(id SessionID) Resource {
	return Resource{Kind: ResourceSession, SessionID: id}
}

func producerResource(id ProducerID) Resource {
	return Resource{Kind: ResourceProducer, ProducerID: id}
}

func consumerResource(id ConsumerID) Resource {
	return Resource{Kind: ResourceConsumer, ConsumerID: id}
}

func tempDestResource(name string) Resource {
	return Resource{Kind: ResourceTempDestination, TempDestName: name}
}

func txResource(id TransactionID) Resource {
	return Resource{Kind: ResourceTransaction, TxID: id}
}
