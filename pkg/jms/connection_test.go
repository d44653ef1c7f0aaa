package jms_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qpidgo/jmscore/pkg/jms"
	"github.com/qpidgo/jmscore/pkg/jmserr"
	"github.com/qpidgo/jmscore/pkg/jmstest"
)

type stringMessage struct {
	Body        string
	persistent  bool
	priority    int
	redelivered bool
	destination jms.Destination
	timestamp   time.Time
	expiration  time.Time
	messageID   string
	userID      string
}

func (m *stringMessage) SetDeliveryMode(p bool)          { m.persistent = p }
func (m *stringMessage) SetPriority(p int)               { m.priority = p }
func (m *stringMessage) SetRedelivered(r bool)           { m.redelivered = r }
func (m *stringMessage) SetDestination(d jms.Destination) { m.destination = d }
func (m *stringMessage) SetTimestamp(t time.Time)        { m.timestamp = t }
func (m *stringMessage) SetExpiration(t time.Time)       { m.expiration = t }
func (m *stringMessage) SetMessageID(id string)          { m.messageID = id }
func (m *stringMessage) SetUserID(id string)             { m.userID = id }
func (m *stringMessage) Redelivered() bool               { return m.redelivered }

func newConn(t *testing.T, opts ...jms.Opt) (*jms.Connection, *jmstest.Provider) {
	t.Helper()
	p := jmstest.New("fake://test")
	conn := jms.NewConnection(p, opts...)
	return conn, p
}

func TestConnectionSendReceiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, _ := newConn(t)
	require.NoError(t, conn.Start(ctx))
	defer conn.Close(ctx)

	session, err := conn.CreateSession(ctx, jms.AutoAck)
	require.NoError(t, err)

	dest := jms.Destination{Kind: jms.Queue, Name: "orders"}
	consumer, err := session.CreateConsumer(ctx, dest, "", false)
	require.NoError(t, err)
	defer consumer.Close()

	producer, err := session.CreateProducer(ctx, &dest)
	require.NoError(t, err)
	defer producer.Close()

	msg := &stringMessage{Body: "hello"}
	require.NoError(t, session.Send(ctx, producer, &dest, msg, jms.DefaultSendOptions()))

	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	env, err := consumer.Receive(rctx)
	require.NoError(t, err)
	got, ok := env.Message.(*stringMessage)
	require.True(t, ok)
	require.Equal(t, "hello", got.Body)
	require.NoError(t, env.Acknowledge(jms.Accepted))
}

func TestConnectionBuffersWhileSessionStopped(t *testing.T) {
	ctx := context.Background()
	conn, _ := newConn(t)
	require.NoError(t, conn.Start(ctx))
	defer conn.Close(ctx)

	session, err := conn.CreateSession(ctx, jms.AutoAck)
	require.NoError(t, err)
	require.NoError(t, session.Stop(ctx))

	dest := jms.Destination{Kind: jms.Queue, Name: "buffered"}
	consumer, err := session.CreateConsumer(ctx, dest, "", false)
	require.NoError(t, err)
	defer consumer.Close()

	producer, err := session.CreateProducer(ctx, &dest)
	require.NoError(t, err)
	defer producer.Close()

	require.NoError(t, session.Send(ctx, producer, &dest, &stringMessage{Body: "buffered-1"}, jms.DefaultSendOptions()))

	// The session is stopped, so nothing should be deliverable yet: a
	// short-timeout receive must time out rather than return a message.
	rctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	_, err = consumer.Receive(rctx)
	cancel()
	require.Error(t, err)

	require.NoError(t, session.Start(ctx))

	rctx2, cancel2 := context.WithTimeout(ctx, time.Second)
	defer cancel2()
	env, err := consumer.Receive(rctx2)
	require.NoError(t, err)
	got := env.Message.(*stringMessage)
	require.Equal(t, "buffered-1", got.Body)
}

func TestTransactedRollbackDoesNotDeliver(t *testing.T) {
	ctx := context.Background()
	conn, _ := newConn(t)
	require.NoError(t, conn.Start(ctx))
	defer conn.Close(ctx)

	session, err := conn.CreateSession(ctx, jms.Transacted)
	require.NoError(t, err)

	dest := jms.Destination{Kind: jms.Queue, Name: "txn"}
	consumer, err := session.CreateConsumer(ctx, dest, "", false)
	require.NoError(t, err)
	defer consumer.Close()

	producer, err := session.CreateProducer(ctx, &dest)
	require.NoError(t, err)
	defer producer.Close()

	require.NoError(t, session.Send(ctx, producer, &dest, &stringMessage{Body: "doomed"}, jms.DefaultSendOptions()))
	require.NoError(t, session.Rollback(ctx))

	rctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	_, err = consumer.Receive(rctx)
	cancel()
	require.Error(t, err, "rolled-back sends must never reach the consumer")

	require.NoError(t, session.Send(ctx, producer, &dest, &stringMessage{Body: "survivor"}, jms.DefaultSendOptions()))
	require.NoError(t, session.Commit(ctx))

	rctx2, cancel2 := context.WithTimeout(ctx, time.Second)
	defer cancel2()
	env, err := consumer.Receive(rctx2)
	require.NoError(t, err)
	require.Equal(t, "survivor", env.Message.(*stringMessage).Body)
}

func TestSetClientIDImmutableAfterConnect(t *testing.T) {
	ctx := context.Background()
	conn, _ := newConn(t)
	require.NoError(t, conn.SetClientID(ctx, "client-1"))

	err := conn.SetClientID(ctx, "client-2")
	require.Error(t, err)

	id, set := conn.Info().ClientID()
	require.True(t, set)
	require.Equal(t, "client-1", id)
}

func TestCreateSessionFailurePropagates(t *testing.T) {
	ctx := context.Background()
	conn, p := newConn(t)
	require.NoError(t, conn.Start(ctx))
	defer conn.Close(ctx)

	p.FailCreate = context.DeadlineExceeded
	_, err := conn.CreateSession(ctx, jms.AutoAck)
	require.Error(t, err)
}

func TestDeleteTemporaryDestinationRefusesWhileInUse(t *testing.T) {
	ctx := context.Background()
	conn, _ := newConn(t)
	require.NoError(t, conn.Start(ctx))
	defer conn.Close(ctx)

	td, err := conn.CreateTemporaryQueue(ctx)
	require.NoError(t, err)

	session, err := conn.CreateSession(ctx, jms.AutoAck)
	require.NoError(t, err)

	consumer, err := session.CreateConsumer(ctx, td.Destination, "", false)
	require.NoError(t, err)

	require.Error(t, conn.DeleteTemporaryDestination(ctx, td))

	require.NoError(t, consumer.Close())
	require.NoError(t, conn.DeleteTemporaryDestination(ctx, td))
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, _ := newConn(t)
	require.NoError(t, conn.Start(ctx))

	require.NoError(t, conn.Close(ctx))
	require.NoError(t, conn.Close(ctx))
}

func TestConnectionFailureRejectsFurtherRequests(t *testing.T) {
	ctx := context.Background()
	conn, p := newConn(t)
	require.NoError(t, conn.Start(ctx))

	p.InjectFailure(context.DeadlineExceeded)

	_, err := conn.CreateSession(ctx, jms.AutoAck)
	require.Error(t, err)
	require.True(t, jmserr.Is(err, jmserr.ConnectionFailed))
}
