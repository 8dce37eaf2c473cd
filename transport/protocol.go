package transport

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Codec marshals and unmarshals the structured values a [ProtocolTransport]
// carries. The transport only ever sees opaque byte blobs; CBOR is the
// default.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}

type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error) { return cbor.Marshal(v) }
func (cborCodec) Unmarshal(b []byte, v any) error {
	return cbor.Unmarshal(b, v)
}

// ProtocolOption configures a [ProtocolTransport] at construction time.
type ProtocolOption interface {
	apply(*protocolConfig)
}

type protocolConfig struct {
	codec               Codec
	inboundCompression  bool
	outboundCompression bool
}

type protocolOptionFunc func(*protocolConfig)

func (f protocolOptionFunc) apply(c *protocolConfig) { f(c) }

// WithCodec overrides the default CBOR codec.
func WithCodec(c Codec) ProtocolOption {
	return protocolOptionFunc(func(cfg *protocolConfig) { cfg.codec = c })
}

// WithInboundCompression enables zlib decompression of every message before
// deserialization.
func WithInboundCompression() ProtocolOption {
	return protocolOptionFunc(func(cfg *protocolConfig) { cfg.inboundCompression = true })
}

// WithOutboundCompression enables zlib compression of every message after
// serialization.
func WithOutboundCompression() ProtocolOption {
	return protocolOptionFunc(func(cfg *protocolConfig) { cfg.outboundCompression = true })
}

// ProtocolTransport layers a structured-value codec, with optional
// independent inbound/outbound zlib compression, over a [MessageTransport].
// It is generic over the message type T: every codec call goes through
// `any` internally via [Codec], but callers get a typed API.
type ProtocolTransport[T any] struct {
	mt                  MessageTransport
	codec               Codec
	inboundCompression  bool
	outboundCompression bool
}

// NewProtocolTransport wraps mt. Compression defaults to off in both
// directions.
func NewProtocolTransport[T any](mt MessageTransport, opts ...ProtocolOption) *ProtocolTransport[T] {
	cfg := protocolConfig{codec: cborCodec{}}
	for _, o := range opts {
		o.apply(&cfg)
	}
	return &ProtocolTransport[T]{
		mt:                  mt,
		codec:               cfg.codec,
		inboundCompression:  cfg.inboundCompression,
		outboundCompression: cfg.outboundCompression,
	}
}

func compressZlib(b []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, _ = w.Write(b)
	_ = w.Close()
	return buf.Bytes()
}

func decompressZlib(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Send serializes v, optionally zlib-compresses it, and hands the result to
// the underlying MessageTransport. Marshal failures are fatal: they mean
// the caller handed over a value the codec cannot represent.
func (pt *ProtocolTransport[T]) Send(v T) error {
	b, err := pt.codec.Marshal(v)
	if err != nil {
		panic(fatalf("ProtocolTransport.Send", err))
	}
	if pt.outboundCompression {
		b = compressZlib(b)
	}
	return pt.mt.Send(b)
}

// Recv dequeues one message, optionally decompresses it, and deserializes
// it into a T. Returns (zero, false, nil) if no message is currently
// available. A deserialize or decompress failure is fatal; use
// [ProtocolTransport.RecvTolerant] for a non-fatal variant.
func (pt *ProtocolTransport[T]) Recv() (T, bool, error) {
	var zero T
	b, ok := pt.mt.Recv()
	if !ok {
		return zero, false, nil
	}
	if pt.inboundCompression {
		d, err := decompressZlib(b)
		if err != nil {
			panic(fatalf("ProtocolTransport.Recv", err))
		}
		b = d
	}
	var v T
	if err := pt.codec.Unmarshal(b, &v); err != nil {
		panic(fatalf("ProtocolTransport.Recv", ErrDeserialize))
	}
	return v, true, nil
}

// RecvTolerant behaves like Recv, except a decompress or deserialize
// failure is returned as an error wrapping ErrDeserialize instead of
// panicking. ok reports whether a message was consumed at all, so the three
// states are: no message (false, nil), corrupt message (true, non-nil
// error), and success (true, nil).
func (pt *ProtocolTransport[T]) RecvTolerant() (T, bool, error) {
	var zero T
	b, ok := pt.mt.Recv()
	if !ok {
		return zero, false, nil
	}
	if pt.inboundCompression {
		d, err := decompressZlib(b)
		if err != nil {
			return zero, true, fmt.Errorf("%w: %w", ErrDeserialize, err)
		}
		b = d
	}
	var v T
	if err := pt.codec.Unmarshal(b, &v); err != nil {
		return zero, true, fmt.Errorf("%w: %w", ErrDeserialize, err)
	}
	return v, true, nil
}

// RecvAll drains every currently available message via Recv.
func (pt *ProtocolTransport[T]) RecvAll() []T {
	var out []T
	for {
		v, ok, _ := pt.Recv()
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

// RecvAllTolerant drains every currently available message via RecvTolerant,
// dropping any that fail to decode.
func (pt *ProtocolTransport[T]) RecvAllTolerant() []T {
	var out []T
	for {
		v, ok, err := pt.RecvTolerant()
		if !ok {
			break
		}
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// HasWriteSpace forwards to the underlying MessageTransport.
func (pt *ProtocolTransport[T]) HasWriteSpace() bool { return pt.mt.HasWriteSpace() }

// IsClosed forwards to the underlying MessageTransport.
func (pt *ProtocolTransport[T]) IsClosed() bool { return pt.mt.IsClosed() }

// SetNotify forwards to the underlying MessageTransport.
func (pt *ProtocolTransport[T]) SetNotify(n Notifiable) { pt.mt.SetNotify(n) }
