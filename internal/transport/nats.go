package transport

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ruvnet/swimring/internal/cluster"
	"github.com/ruvnet/swimring/internal/packet"
)

// natsSubject returns the per-member subject each node subscribes to.
func natsSubject(memberName string) string {
	return "swim." + memberName
}

// NATSTransport is an alternate Transport backend that addresses members
// by NATS subject rather than by host:port, useful when nodes sit behind
// a shared message broker instead of being directly routable.
type NATSTransport struct {
	secret []byte
	conn   *nats.Conn
	sub    *nats.Subscription
	name   string
	logger *zap.Logger
	inbox  chan packet.Packet
}

// NewNATSTransport connects to url and subscribes to localName's subject.
func NewNATSTransport(url, localName string, secret []byte, logger *zap.Logger) (*NATSTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}

	t := &NATSTransport{
		secret: secret,
		conn:   conn,
		name:   localName,
		logger: logger,
		inbox:  make(chan packet.Packet, 256),
	}

	sub, err := conn.Subscribe(natsSubject(localName), t.handleMessage)
	if err != nil {
		conn.Close()
		return nil, err
	}
	t.sub = sub
	return t, nil
}

func (t *NATSTransport) handleMessage(msg *nats.Msg) {
	p, err := packet.Decode(msg.Data, t.secret)
	if err != nil {
		t.logger.Debug("dropping undecodable nats packet", zap.Error(err))
		return
	}
	select {
	case t.inbox <- p:
	default:
		t.logger.Debug("dropping nats packet: inbox full")
	}
}

func (t *NATSTransport) Recv(ctx context.Context) (packet.Packet, error) {
	select {
	case p := <-t.inbox:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *NATSTransport) Send(_ context.Context, member cluster.Member, p packet.Packet) error {
	data, err := packet.Encode(p, t.secret)
	if err != nil {
		return err
	}
	return t.conn.Publish(natsSubject(member.Name), data)
}

func (t *NATSTransport) Close() error {
	if t.sub != nil {
		_ = t.sub.Unsubscribe()
	}
	t.conn.Close()
	return nil
}
