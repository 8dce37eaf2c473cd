package transport

// MessageTransport abstracts over the two framing layers: whichever one is
// in use, callers above this point only need Send/Recv/RecvAll and the
// shared backpressure/close queries. It is a small interface implemented
// directly by both concrete transport types rather than a wrapper type;
// BufferedTransport's Send, Recv and RecvAll below adapt its message-mode
// methods to these names.
type MessageTransport interface {
	Notifier
	Send(b []byte) error
	Recv() ([]byte, bool)
	RecvAll() [][]byte
	HasWriteSpace() bool
	IsClosed() bool
}

// Send frames b with the length-prefixed wire format and buffers it for
// write, returning ErrTransportClosed if the transport has latched closed.
// It satisfies [MessageTransport] alongside SendMessage; a too-large
// message still panics per SendMessage's own contract.
func (bt *BufferedTransport) Send(b []byte) error {
	if bt.IsClosed() {
		return ErrTransportClosed
	}
	bt.SendMessage(b)
	return nil
}

// Recv is MessageTransport's name for RecvMessage.
func (bt *BufferedTransport) Recv() ([]byte, bool) { return bt.RecvMessage() }

// RecvAll is MessageTransport's name for RecvAllMessages.
func (bt *BufferedTransport) RecvAll() [][]byte { return bt.RecvAllMessages() }

var (
	_ MessageTransport = (*BufferedTransport)(nil)
	_ MessageTransport = (*EncryptedTransport)(nil)
)
