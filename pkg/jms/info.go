package jms

import "time"

// AckMode is a session's acknowledgement mode.
type AckMode int8

const (
	AutoAck AckMode = iota
	ClientAck
	DupsOkAck
	Transacted
)

// Policies bundles the opaque provider-facing knobs a ConnectionInfo
// carries: prefetch, redelivery, presettle, deserialization, and
// message-id strategy. The concrete redelivery/prefetch strategy objects
// are out of scope; this core only needs to know whether message-id
// generation and presettling are enabled, since those two directly gate
// the send algorithm.
type Policies struct {
	Prefetch              int
	PresettlePolicy       PresettleFunc
	MessageIDPolicy       MessageIDFunc
	DeserializationPolicy DeserializationFunc
	RedeliveryPolicy      any // opaque, provider/application defined
	SelectorValidator     SelectorValidatorFunc
}

// SelectorValidatorFunc parses/validates a selector string at
// createConsumer time; selector grammar itself is out of scope, this
// core only needs to know whether one was rejected.
type SelectorValidatorFunc func(selector string) error

// PresettleFunc decides whether sends for a given producer should be
// presettled (no broker ack required).
type PresettleFunc func(producer ProducerID, dest Destination) bool

// MessageIDFunc builds a provider message id for an outbound message;
// generation strategy is opaque/pluggable.
type MessageIDFunc func(producer ProducerID, seq uint64) string

// DeserializationFunc is an opaque hook invoked when converting an
// application message into a native one.
type DeserializationFunc func(native any) (any, error)

// Timeouts bundles the per-call timeout configuration.
type Timeouts struct {
	Connect time.Duration
	Close   time.Duration
	Send    time.Duration
	Request time.Duration
}

// Toggles bundles the boolean behavior knobs a Connection carries.
type Toggles struct {
	ForceSyncSend          bool
	ForceAsyncSend         bool
	ForceAsyncAcks         bool
	PopulateUserID         bool
	ValidatePropertyNames  bool
	LocalMessageExpiry     bool
	LocalMessagePriority   bool
	ReceiveLocalOnly       bool
	ReceiveNoWaitLocalOnly bool
}

// Credentials is opaque to this core beyond the username, which is
// needed for the populate-user-id header.
type Credentials struct {
	Username string
	Password string
}

// ConnectionInfo is the full configuration record for a Connection.
type ConnectionInfo struct {
	ID ConnectionID

	clientID    string
	clientIDSet bool // monotonic false->true, then immutable

	ConfiguredURIs []string
	ConnectedURI   string

	Credentials Credentials
	Policies    Policies
	Timeouts    Timeouts
	Toggles     Toggles
}

// NewConnectionInfo builds a ConnectionInfo with a freshly minted id and
// the given configured URIs.
func NewConnectionInfo(uris ...string) *ConnectionInfo {
	return &ConnectionInfo{
		ID:             NewConnectionID(),
		ConfiguredURIs: uris,
		Timeouts: Timeouts{
			Connect: 15 * time.Second,
			Close:   15 * time.Second,
			Send:    0, // no timeout by default
			Request: 15 * time.Second,
		},
	}
}

// ClientID returns the currently set client id, if any.
func (c *ConnectionInfo) ClientID() (string, bool) {
	return c.clientID, c.clientIDSet
}

// SessionInfo is the per-session configuration record.
type SessionInfo struct {
	ID       SessionID
	AckMode  AckMode
	Policies Policies // inherited copy from the owning ConnectionInfo
}

// ProducerInfo is the per-producer configuration record.
type ProducerInfo struct {
	ID          ProducerID
	Destination *Destination // nil for an anonymous ("unidentified") producer
}

// ConsumerInfo is the per-consumer configuration record.
type ConsumerInfo struct {
	ID          ConsumerID
	Destination Destination
	Selector    string
	NoLocal     bool
	DurableName string // empty unless this is a durable subscriber
}
