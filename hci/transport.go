package hci

// Transport moves complete HCI packets toward the other side of the HCI.
// Ownership of the buffer passes to the transport, which releases it on
// failure.
type Transport interface {
	SendCommand(b *Buffer) error
	SendEvent(b *Buffer) error
	SendACL(b *Buffer) error
}

// Receiver consumes packets delivered by a transport. Command and event
// packets share ReceiveCommand; the buffer's Type tells them apart. A nil
// return transfers ownership of the buffer to the receiver; on error the
// transport releases it.
type Receiver interface {
	ReceiveCommand(b *Buffer) error
	ReceiveACL(b *Buffer) error
}

// FlowControl lets a transport signal readiness to the physical layer, for
// example by driving RTS.
type FlowControl interface {
	SetReady(ready bool)
}
