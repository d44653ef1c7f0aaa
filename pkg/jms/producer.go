package jms

import "sync/atomic"

// Producer is a session-owned message producer.
// Producers are unaffected by session start/stop.
type Producer struct {
	info    ProducerInfo
	session *Session

	msgSeq atomic.Uint64 // per-producer message sequence, stamped on Send

	closed atomic.Bool
	failed atomic.Pointer[error]
}

func newProducer(session *Session, info ProducerInfo) *Producer {
	return &Producer{info: info, session: session}
}

func (p *Producer) ID() ProducerID { return p.info.ID }

// Destination returns the producer's bound destination, or nil for an
// anonymous producer.
func (p *Producer) Destination() *Destination { return p.info.Destination }

// nextMessageSeq allocates the next dispatch id / message sequence for
// this producer.
func (p *Producer) nextMessageSeq() uint64 { return p.msgSeq.Add(1) }

func (p *Producer) markFailed(cause error) {
	p.failed.Store(&cause)
}

func (p *Producer) failureCause() error {
	if c := p.failed.Load(); c != nil {
		return *c
	}
	return nil
}

func (p *Producer) isClosed() bool { return p.closed.Load() }

// Close removes this producer from its session and destroys it remotely.
// It is removed from the local map before being destroyed remotely.
func (p *Producer) Close() error {
	return p.session.closeProducer(p)
}
