// Package transport layers byte-stream adapters on top of a
// [github.com/joeycumines/go-transportation/reactor.Reactor]: a
// [BufferedTransport] turns a non-blocking resource into backpressured read
// and write byte buffers, an [EncryptedTransport] wraps one in fixed-frame
// authenticated encryption, and [MessageTransport] / [ProtocolTransport]
// layer length-prefixed and optionally-compressed structured messages over
// either.
//
// Every transport in this package is driven by the reactor: construct one,
// hand it a *reactor.Reactor, and call Run/RunWorker on that reactor to pump
// data. None of these types block on I/O themselves.
package transport
