package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha512"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// Perspective selects which of the two PBKDF2-derived keys an
// [EncryptedTransport] uses for sending versus receiving. The two sides of
// a connection must use opposite perspectives over the same seed.
type Perspective int

const (
	// Alice uses the "alice"-salted key outbound and the "bob"-salted key
	// inbound.
	Alice Perspective = iota
	// Bob is Alice's mirror.
	Bob
)

const (
	pbkdf2Iterations = 10240
	keySize          = 32

	// frameLen is the fixed plaintext size per frame: 1 length byte, up to
	// 255 payload bytes, zero-padded to fill the remainder.
	frameLen = 256
	// maxPayload is the largest payload a single frame can carry.
	maxPayload = frameLen - 1
	// aeadTagLen is the AES-256-GCM authentication tag size.
	aeadTagLen = 16
	// wireFrameLen is frameLen sealed with a 16-byte AEAD tag: the exact
	// multiple the wire must always be a count of.
	wireFrameLen = frameLen + aeadTagLen
)

func deriveKeys(seed []byte) (alice, bob [keySize]byte) {
	a := pbkdf2.Key(seed, []byte("alice"), pbkdf2Iterations, keySize, sha512.New)
	b := pbkdf2.Key(seed, []byte("bob"), pbkdf2Iterations, keySize, sha512.New)
	copy(alice[:], a)
	copy(bob[:], b)
	return
}

// nonceCounter is a monotonic 96-bit big-endian IV counter. next returns
// the value to use for the current frame and advances the counter; once
// the counter wraps past its maximum it is permanently exhausted.
type nonceCounter struct {
	value     [12]byte
	exhausted bool
}

func (c *nonceCounter) next() ([12]byte, error) {
	if c.exhausted {
		return [12]byte{}, ErrNonceExhausted
	}
	out := c.value
	overflowed := true
	for i := len(c.value) - 1; i >= 0; i-- {
		c.value[i]++
		if c.value[i] != 0 {
			overflowed = false
			break
		}
	}
	if overflowed {
		c.exhausted = true
	}
	return out, nil
}

// EncryptedTransport carries arbitrary-length application messages over a
// [BufferedTransport] as a sequence of fixed 272-byte AES-256-GCM frames,
// with role-separated keys and strictly monotonic nonces. Construct with
// [NewEncryptedTransport].
type EncryptedTransport struct {
	bt          *BufferedTransport
	perspective Perspective

	mu          sync.Mutex
	outboundKey [keySize]byte
	inboundKey  [keySize]byte
	outboundIV  nonceCounter
	inboundIV   nonceCounter

	inboundCleartext []byte
	inboundMessages  [][]byte

	notifyHook Notifiable
}

// NewEncryptedTransport derives both role keys from seed via
// PBKDF2-HMAC-SHA512 (10240 iterations) and wraps bt. It installs itself as
// bt's notify hook so inbound frames are decrypted and reassembled as soon
// as they arrive; bt's own hook (if any set beforehand) is replaced.
func NewEncryptedTransport(bt *BufferedTransport, perspective Perspective, seed []byte) *EncryptedTransport {
	alice, bob := deriveKeys(seed)
	et := &EncryptedTransport{bt: bt, perspective: perspective}
	if perspective == Alice {
		et.outboundKey, et.inboundKey = alice, bob
	} else {
		et.outboundKey, et.inboundKey = bob, alice
	}
	bt.SetNotify(NotifiableFunc(et.onBufferedNotify))
	return et
}

// Rekey replaces both derived keys in place from a new seed. The IV
// counters are not reset, a known limitation: callers needing nonce-reuse
// guarantees across a long session must instead construct a fresh
// transport.
func (et *EncryptedTransport) Rekey(seed []byte) {
	alice, bob := deriveKeys(seed)
	et.mu.Lock()
	defer et.mu.Unlock()
	if et.perspective == Alice {
		et.outboundKey, et.inboundKey = alice, bob
	} else {
		et.outboundKey, et.inboundKey = bob, alice
	}
}

func sealFrame(key [keySize]byte, nonce [12]byte, plaintext [frameLen]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce[:], plaintext[:], nil), nil
}

func openFrame(key [keySize]byte, nonce [12]byte, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce[:], ciphertext, nil)
}

// emitFrame seals one L-byte payload (L <= maxPayload) and appends the
// 272-byte wire frame to the underlying buffered transport's write buffer.
func (et *EncryptedTransport) emitFrame(payload []byte) {
	var plain [frameLen]byte
	plain[0] = byte(len(payload))
	copy(plain[1:], payload)

	et.mu.Lock()
	nonce, err := et.outboundIV.next()
	key := et.outboundKey
	et.mu.Unlock()
	if err != nil {
		panic(fatalf("EncryptedTransport.Send", err))
	}

	wire, err := sealFrame(key, nonce, plain)
	if err != nil {
		panic(fatalf("EncryptedTransport.Send", err))
	}
	et.bt.Put(wire)
}

// Send splits b into 255-byte chunks and emits one frame per chunk. If the
// final chunk was exactly maxPayload bytes, an extra zero-length frame is
// emitted as a terminator so the receiver never mistakes a full chunk for
// the end of the message. A zero-length message is sent as a single
// zero-length frame.
//
// Send returns ErrTransportClosed if the underlying buffered transport has
// latched closed. The encrypted layer's own fatal conditions (nonce
// exhaustion, cipher construction failure) panic instead of returning an
// error.
func (et *EncryptedTransport) Send(b []byte) error {
	if et.bt.IsClosed() {
		return ErrTransportClosed
	}
	if len(b) == 0 {
		et.emitFrame(nil)
		return nil
	}
	var last int
	for off := 0; off < len(b); off += maxPayload {
		end := off + maxPayload
		if end > len(b) {
			end = len(b)
		}
		et.emitFrame(b[off:end])
		last = end - off
	}
	if last == maxPayload {
		et.emitFrame(nil)
	}
	return nil
}

// drainFrames decrypts every whole 272-byte frame currently buffered on bt,
// reassembling complete messages into inboundMessages. Decrypt failure and
// unexpected plaintext length are both unrecoverable: with implicit
// counter nonces there is no way to resynchronize the stream.
func (et *EncryptedTransport) drainFrames() {
	avail := et.bt.Available()
	n := avail - avail%wireFrameLen
	if n == 0 {
		return
	}
	chunk, ok := et.bt.TakeChunk(n)
	if !ok {
		return
	}

	for off := 0; off < len(chunk); off += wireFrameLen {
		frame := chunk[off : off+wireFrameLen]

		et.mu.Lock()
		nonce, nerr := et.inboundIV.next()
		key := et.inboundKey
		et.mu.Unlock()
		if nerr != nil {
			panic(fatalf("EncryptedTransport.Recv", nerr))
		}

		plain, err := openFrame(key, nonce, frame)
		if err != nil {
			panic(fatalf("EncryptedTransport.Recv", ErrFrameCorrupt))
		}
		if len(plain) != frameLen {
			panic(fatalf("EncryptedTransport.Recv", ErrFrameCorrupt))
		}

		l := int(plain[0])
		et.mu.Lock()
		et.inboundCleartext = append(et.inboundCleartext, plain[1:1+l]...)
		if l < maxPayload {
			msg := et.inboundCleartext
			if msg == nil {
				msg = []byte{}
			}
			et.inboundMessages = append(et.inboundMessages, msg)
			et.inboundCleartext = nil
		}
		et.mu.Unlock()
	}
}

func (et *EncryptedTransport) onBufferedNotify() {
	et.drainFrames()
	if et.notifyHook != nil {
		et.notifyHook.Notify()
	}
}

// Recv dequeues and returns one fully reassembled application message, or
// (nil, false) if none is currently available.
func (et *EncryptedTransport) Recv() ([]byte, bool) {
	et.mu.Lock()
	defer et.mu.Unlock()
	if len(et.inboundMessages) == 0 {
		return nil, false
	}
	msg := et.inboundMessages[0]
	et.inboundMessages = et.inboundMessages[1:]
	return msg, true
}

// RecvAll drains every message currently queued.
func (et *EncryptedTransport) RecvAll() [][]byte {
	et.mu.Lock()
	defer et.mu.Unlock()
	out := et.inboundMessages
	et.inboundMessages = nil
	return out
}

// HasWriteSpace forwards to the underlying BufferedTransport.
func (et *EncryptedTransport) HasWriteSpace() bool { return et.bt.HasWriteSpace() }

// IsClosed forwards to the underlying BufferedTransport.
func (et *EncryptedTransport) IsClosed() bool { return et.bt.IsClosed() }

// SetNotify installs n as the hook invoked after every I/O turn of the
// underlying BufferedTransport, once any complete inbound frames have been
// decrypted and drained into the message queue.
func (et *EncryptedTransport) SetNotify(n Notifiable) {
	et.mu.Lock()
	et.notifyHook = n
	et.mu.Unlock()
}
