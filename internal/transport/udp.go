package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/ruvnet/swimring/internal/cluster"
	"github.com/ruvnet/swimring/internal/packet"
)

// maxDatagramPayload is a conservative ceiling kept well under the
// typical path MTU; signed+encoded packets larger than this are sent
// over a TCP fallback stream instead of risking UDP fragmentation.
const maxDatagramPayload = 1400

// maxTCPConnections bounds how many oversized-payload TCP connections
// the listener accepts concurrently.
const maxTCPConnections = 64

const tcpReadTimeout = 5 * time.Second

// UDPTransport sends small packets as single UDP datagrams and falls
// back to a brotli-compressed TCP stream for anything too large to fit
// safely in one datagram, per the framing contract in §6 of the wire
// format description.
type UDPTransport struct {
	secret []byte
	resolve AddressResolver
	logger  *zap.Logger

	udpConn net.PacketConn
	tcpLn   net.Listener

	inbox chan packet.Packet
	done  chan struct{}
	wg    sync.WaitGroup
	closeOnce sync.Once
}

// NewUDPTransport binds bindAddr for both UDP and TCP and begins
// listening in the background. resolve maps a member name to a dialable
// host:port; secret authenticates every packet via a keyed MAC.
func NewUDPTransport(bindAddr string, secret []byte, resolve AddressResolver, logger *zap.Logger) (*UDPTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	udpConn, err := net.ListenPacket("udp", bindAddr)
	if err != nil {
		return nil, err
	}
	tcpLn, err := net.Listen("tcp", bindAddr)
	if err != nil {
		udpConn.Close()
		return nil, err
	}
	tcpLn = netutil.LimitListener(tcpLn, maxTCPConnections)

	t := &UDPTransport{
		secret:  secret,
		resolve: resolve,
		logger:  logger,
		udpConn: udpConn,
		tcpLn:   tcpLn,
		inbox:   make(chan packet.Packet, 256),
		done:    make(chan struct{}),
	}
	t.wg.Add(2)
	go t.readDatagrams()
	go t.acceptStreams()
	return t, nil
}

func (t *UDPTransport) readDatagrams() {
	defer t.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, _, err := t.udpConn.ReadFrom(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.deliver(data)
	}
}

func (t *UDPTransport) acceptStreams() {
	defer t.wg.Done()
	for {
		conn, err := t.tcpLn.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				continue
			}
		}
		go t.handleStream(conn)
	}
}

func (t *UDPTransport) handleStream(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(tcpReadTimeout))

	compressed, err := io.ReadAll(io.LimitReader(conn, 16<<20))
	if err != nil {
		return
	}
	data, err := io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		t.logger.Debug("dropping stream packet: decompress failed", zap.Error(err))
		return
	}
	t.deliver(data)
}

func (t *UDPTransport) deliver(data []byte) {
	p, err := packet.Decode(data, t.secret)
	if err != nil {
		t.logger.Debug("dropping undecodable packet", zap.Error(err))
		return
	}
	select {
	case t.inbox <- p:
	default:
		t.logger.Debug("dropping packet: inbox full")
	}
}

func (t *UDPTransport) Recv(ctx context.Context) (packet.Packet, error) {
	select {
	case p := <-t.inbox:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, errors.New("transport: closed")
	}
}

func (t *UDPTransport) Send(ctx context.Context, member cluster.Member, p packet.Packet) error {
	addr, err := t.resolve(member.Name)
	if err != nil {
		return err
	}
	data, err := packet.Encode(p, t.secret)
	if err != nil {
		return err
	}
	if len(data) <= maxDatagramPayload {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return err
		}
		_, err = t.udpConn.WriteTo(data, udpAddr)
		return err
	}
	return t.sendStream(ctx, addr, data)
}

func (t *UDPTransport) sendStream(ctx context.Context, addr string, data []byte) error {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	if _, err := bw.Write(data); err != nil {
		return err
	}
	if err := bw.Close(); err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(buf.Bytes())
	return err
}

func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.udpConn.Close()
		t.tcpLn.Close()
	})
	t.wg.Wait()
	return nil
}
