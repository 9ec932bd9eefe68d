package packet

import (
	"bytes"
	"crypto/hmac"
	"encoding/gob"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/ruvnet/swimring/internal/cluster"
)

// macSize is the digest size of blake2b-512, used as a keyed MAC over the
// encoded envelope.
const macSize = blake2b.Size

// ErrInvalidMAC is returned by Decode when the trailing signature does not
// match the shared secret. Transports must treat this the same as any
// other decode failure: drop the packet silently, never surface it.
var ErrInvalidMAC = fmt.Errorf("packet: invalid signature")

// wireEnvelope is the single concrete type gob actually encodes. Packet is
// a closed sum type, so rather than teach gob about five interface
// implementations we flatten every variant into one struct and populate
// only the fields that Kind says are meaningful.
type wireEnvelope struct {
	Kind           Kind
	SourceName     string
	SourceValidity cluster.Validity
	Target         string
	Name           string
	Clock          uint64
	Status         uint8
	MetadataKnown  bool
	Metadata       map[string][]byte
}

func toEnvelope(p Packet) wireEnvelope {
	src := SourceOf(p)
	env := wireEnvelope{
		Kind:           p.Kind(),
		SourceName:     src.Name,
		SourceValidity: src.Validity,
	}
	switch v := p.(type) {
	case Ping:
	case PingReq:
		env.Target = v.Target
	case Ack:
	case Gossip:
		env.Name = v.Name
		env.Clock = v.Clock
		env.Status = uint8(v.Status)
		env.MetadataKnown = v.Metadata.Known()
		if env.MetadataKnown {
			env.Metadata = v.Metadata
		}
	case GossipAck:
		env.Name = v.Name
		env.Clock = v.Clock
	}
	return env
}

func (env wireEnvelope) toPacket() (Packet, error) {
	src := Source{Name: env.SourceName, Validity: env.SourceValidity}
	switch env.Kind {
	case KindPing:
		return Ping{Src: src}, nil
	case KindPingReq:
		return PingReq{Src: src, Target: env.Target}, nil
	case KindAck:
		return Ack{Src: src}, nil
	case KindGossip:
		var metadata cluster.Metadata
		if env.MetadataKnown {
			metadata = env.Metadata
			if metadata == nil {
				metadata = cluster.Metadata{}
			}
		}
		return Gossip{
			Src:      src,
			Name:     env.Name,
			Clock:    env.Clock,
			Status:   cluster.Status(env.Status),
			Metadata: metadata,
		}, nil
	case KindGossipAck:
		return GossipAck{Src: src, Name: env.Name, Clock: env.Clock}, nil
	default:
		return nil, fmt.Errorf("packet: unknown kind %d", env.Kind)
	}
}

// Encode gob-encodes p and appends a blake2b-512 MAC keyed with secret.
// The result is what a Transport should place on the wire.
func Encode(p Packet, secret []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toEnvelope(p)); err != nil {
		return nil, fmt.Errorf("packet: encode: %w", err)
	}
	payload := buf.Bytes()

	mac, err := blake2b.New512(secret)
	if err != nil {
		return nil, fmt.Errorf("packet: init mac: %w", err)
	}
	mac.Write(payload)
	return mac.Sum(payload), nil
}

// Decode verifies the trailing MAC against secret and, if it matches,
// gob-decodes the remaining bytes into a Packet. Any failure — truncated
// input, bad MAC, malformed gob — is reported as a plain error; callers at
// the transport boundary are expected to drop such packets rather than
// propagate the error into the core.
func Decode(data []byte, secret []byte) (Packet, error) {
	if len(data) < macSize {
		return nil, fmt.Errorf("packet: short input")
	}
	split := len(data) - macSize
	payload, tag := data[:split], data[split:]

	mac, err := blake2b.New512(secret)
	if err != nil {
		return nil, fmt.Errorf("packet: init mac: %w", err)
	}
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return nil, ErrInvalidMAC
	}

	var env wireEnvelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&env); err != nil {
		return nil, fmt.Errorf("packet: decode: %w", err)
	}
	return env.toPacket()
}
