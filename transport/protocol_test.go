package transport

import (
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

// fakeMessageTransport is an in-memory MessageTransport: Send records
// outbound messages, Recv pops from a hand-loaded inbox. It keeps the codec
// and compression tests free of sockets and reactors.
type fakeMessageTransport struct {
	sent   [][]byte
	inbox  [][]byte
	closed bool
	hook   Notifiable
}

func (f *fakeMessageTransport) Send(b []byte) error {
	if f.closed {
		return ErrTransportClosed
	}
	f.sent = append(f.sent, b)
	return nil
}

func (f *fakeMessageTransport) Recv() ([]byte, bool) {
	if len(f.inbox) == 0 {
		return nil, false
	}
	m := f.inbox[0]
	f.inbox = f.inbox[1:]
	return m, true
}

func (f *fakeMessageTransport) RecvAll() [][]byte {
	out := f.inbox
	f.inbox = nil
	return out
}

func (f *fakeMessageTransport) HasWriteSpace() bool    { return true }
func (f *fakeMessageTransport) IsClosed() bool         { return f.closed }
func (f *fakeMessageTransport) SetNotify(n Notifiable) { f.hook = n }

type testEnvelope struct {
	Kind string
	Seq  int
	Body []byte
}

func TestProtocolRoundTrip(t *testing.T) {
	fake := &fakeMessageTransport{}
	pt := NewProtocolTransport[testEnvelope](fake)

	want := testEnvelope{Kind: "data", Seq: 3, Body: []byte{1, 2, 3}}
	require.NoError(t, pt.Send(want))
	require.Len(t, fake.sent, 1)

	fake.inbox = fake.sent
	got, ok, err := pt.Recv()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)

	_, ok, err = pt.Recv()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProtocolCompression(t *testing.T) {
	fake := &fakeMessageTransport{}
	sender := NewProtocolTransport[testEnvelope](fake, WithOutboundCompression())

	want := testEnvelope{Kind: "bulk", Body: []byte(strings.Repeat("compressible ", 200))}
	require.NoError(t, sender.Send(want))
	require.Len(t, fake.sent, 1)

	raw, err := cbor.Marshal(want)
	require.NoError(t, err)
	require.Less(t, len(fake.sent[0]), len(raw), "compressed wire must be smaller than raw CBOR")

	receiver := NewProtocolTransport[testEnvelope](&fakeMessageTransport{inbox: fake.sent}, WithInboundCompression())
	got, ok, err := receiver.Recv()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestProtocolRecvStrictPanicsOnGarbage(t *testing.T) {
	fake := &fakeMessageTransport{inbox: [][]byte{{0xff, 0xfe, 0xfd}}}
	pt := NewProtocolTransport[testEnvelope](fake)

	defer func() {
		rec := recover()
		require.NotNil(t, rec)
		err, ok := rec.(error)
		require.True(t, ok)
		require.ErrorIs(t, err, ErrDeserialize)
	}()
	_, _, _ = pt.Recv()
}

func TestProtocolRecvTolerant(t *testing.T) {
	good, err := cbor.Marshal(testEnvelope{Kind: "ok"})
	require.NoError(t, err)
	fake := &fakeMessageTransport{inbox: [][]byte{{0xff, 0xfe, 0xfd}, good}}
	pt := NewProtocolTransport[testEnvelope](fake)

	_, ok, err := pt.RecvTolerant()
	require.True(t, ok, "a corrupt message is still consumed")
	require.ErrorIs(t, err, ErrDeserialize)

	got, ok, err := pt.RecvTolerant()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ok", got.Kind)

	_, ok, err = pt.RecvTolerant()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProtocolRecvAll(t *testing.T) {
	var msgs [][]byte
	for i := 0; i < 3; i++ {
		b, err := cbor.Marshal(testEnvelope{Seq: i})
		require.NoError(t, err)
		msgs = append(msgs, b)
	}
	pt := NewProtocolTransport[testEnvelope](&fakeMessageTransport{inbox: msgs})

	got := pt.RecvAll()
	require.Len(t, got, 3)
	for i, v := range got {
		require.Equal(t, i, v.Seq)
	}
}

func TestProtocolRecvAllTolerantSkipsCorrupt(t *testing.T) {
	good, err := cbor.Marshal(testEnvelope{Kind: "keep"})
	require.NoError(t, err)
	fake := &fakeMessageTransport{inbox: [][]byte{good, {0xff, 0xfe}, good}}
	pt := NewProtocolTransport[testEnvelope](fake)

	got := pt.RecvAllTolerant()
	require.Len(t, got, 2)
	for _, v := range got {
		require.Equal(t, "keep", v.Kind)
	}
}

func TestProtocolSendOnClosedTransport(t *testing.T) {
	fake := &fakeMessageTransport{closed: true}
	pt := NewProtocolTransport[testEnvelope](fake)
	require.ErrorIs(t, pt.Send(testEnvelope{}), ErrTransportClosed)
}

func TestCustomCodec(t *testing.T) {
	fake := &fakeMessageTransport{}
	pt := NewProtocolTransport[string](fake, WithCodec(rawStringCodec{}))

	require.NoError(t, pt.Send("plain"))
	require.Equal(t, [][]byte{[]byte("plain")}, fake.sent)

	fake.inbox = fake.sent
	got, ok, err := pt.Recv()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "plain", got)
}

// rawStringCodec passes string payloads through untouched.
type rawStringCodec struct{}

func (rawStringCodec) Marshal(v any) ([]byte, error) {
	return []byte(v.(string)), nil
}

func (rawStringCodec) Unmarshal(b []byte, v any) error {
	*v.(*string) = string(b)
	return nil
}
