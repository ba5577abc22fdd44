package protocol

import "fmt"

// PacketKind identifies the packet variant. Values are part of the wire
// format and must not be reordered.
type PacketKind uint8

const (
	KindAuth PacketKind = iota // login request / server ack
	KindMessage
	KindVideo
	KindFile
	KindKeyExchange
	KindError
)

// ServerName is the reserved sender identity used for packets the relay
// itself originates (auth acks, errors).
const ServerName = "Server"

// String returns a human-readable name for the packet kind.
func (k PacketKind) String() string {
	switch k {
	case KindAuth:
		return "Auth"
	case KindMessage:
		return "Message"
	case KindVideo:
		return "Video"
	case KindFile:
		return "File"
	case KindKeyExchange:
		return "KeyExchange"
	case KindError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Valid reports whether the kind is in the closed set.
func (k PacketKind) Valid() bool {
	return k <= KindError
}

// Packet is the single structured unit exchanged over the wire. All variants
// share one struct; unused fields stay empty. Field names in JSON keep the
// original client spelling so existing clients interoperate unchanged.
type Packet struct {
	Kind      PacketKind `json:"Type"`
	Sender    string     `json:"Sender"`
	Recipient string     `json:"Recipient"`

	// Password carries the credential on Auth packets. On Error packets it
	// carries the error message instead, a wire-format wart kept for
	// compatibility with legacy clients.
	Password string `json:"Password"`

	// FileName is metadata for File packets, opaque to routing.
	FileName string `json:"FileName"`

	// Data is the opaque payload: ciphertext for Message/Video/File,
	// raw key material for KeyExchange. IV accompanies ciphertext.
	Data []byte `json:"Data"`
	IV   []byte `json:"IV"`
}

// NewAuthAck builds the acknowledgement the relay sends after a successful
// login.
func NewAuthAck() *Packet {
	return &Packet{Kind: KindAuth, Sender: ServerName}
}

// NewError builds an Error packet carrying msg in the overloaded Password
// field.
func NewError(msg string) *Packet {
	return &Packet{Kind: KindError, Sender: ServerName, Password: msg}
}

// Broadcast reports whether the packet is addressed to all other peers.
func (p *Packet) Broadcast() bool {
	return p.Recipient == ""
}
