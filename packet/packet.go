// Package packet implements the Maple Bus wire packet: a 4-byte frame header
// plus zero or more 32-bit payload words, the bit-length and CRC derived
// from them for transmission.
package packet

import "github.com/OrangeFox86/DreamPort/debug"

// CommandResponseRequestResend is the reserved Maple command opcode that
// asks the host to resend the last packet sent to the responder.
const CommandResponseRequestResend = 0xFE

// Frame is the 4-byte Maple frame word: command, recipient, sender, and the
// number of payload words that follow, packed MSB-first on the wire as
// command[31:24] recipient[23:16] sender[15:8] length[7:0].
type Frame struct {
	Command       uint8
	RecipientAddr uint8
	SenderAddr    uint8
	Length        uint8
}

// FromWord unpacks a 32-bit frame word into its four fields.
func FromWord(word uint32) Frame {
	return Frame{
		Command:       uint8(word >> 24),
		RecipientAddr: uint8(word >> 16),
		SenderAddr:    uint8(word >> 8),
		Length:        uint8(word),
	}
}

// ToWord packs a Frame into its 32-bit wire representation.
func (f Frame) ToWord() uint32 {
	return uint32(f.Command)<<24 |
		uint32(f.RecipientAddr)<<16 |
		uint32(f.SenderAddr)<<8 |
		uint32(f.Length)
}

// defaultFrame is the zero value a freshly Reset Packet carries: command 0,
// no addresses, zero-length payload.
func defaultFrame() Frame { return Frame{} }

// Packet is a MaplePacket: a Frame plus its payload words. A Packet built by
// NewPacket is valid by construction; Set leaves it invalid (Length not
// matching len(Payload)) when the received buffer holds fewer payload words
// than the frame word declares.
type Packet struct {
	Frame   Frame
	Payload []uint32
}

// NewPacket builds a valid Packet: frame.Length is set from len(payload).
func NewPacket(command, recipientAddr, senderAddr uint8, payload []uint32) Packet {
	debug.Assert(len(payload) <= 255, "maple packet payload exceeds 255 words")
	return Packet{
		Frame: Frame{
			Command:       command,
			RecipientAddr: recipientAddr,
			SenderAddr:    senderAddr,
			Length:        uint8(len(payload)),
		},
		Payload: payload,
	}
}

// Reset returns the packet to its construction-time empty state: a default
// frame and an empty payload.
func (p *Packet) Reset() {
	p.Frame = defaultFrame()
	p.Payload = p.Payload[:0]
}

// IsValid reports whether the frame's declared length matches the payload
// actually carried and that length is representable in the 8-bit length
// field.
func (p *Packet) IsValid() bool {
	return int(p.Frame.Length) == len(p.Payload) && p.Frame.Length <= 255
}

// TotalBits is the number of bits this packet occupies on the wire: the
// frame word and every payload word at 32 bits each, plus an 8-bit CRC
// trailer. Start/end line sequences are not bits on the data lines in this
// accounting — they're edge transitions the bus driver emits around them.
func (p *Packet) TotalBits() uint32 {
	return uint32(1+len(p.Payload))*32 + 8
}

// Set parses a raw received frame: words[0] is the frame word, words[1:] is
// payload. The frame word's Length field is authoritative for how many of
// the remaining words (up to len(words)-1) belong to this packet; callers
// that allow trailing words beyond Length (the VMU extended-info anomaly,
// see bus.Driver.ProcessEvents) pass the full slice and rely on IsValid
// staying accurate to Length, not len(words)-1.
func (p *Packet) Set(words []uint32, wordCount int) {
	debug.Assert(wordCount >= 1 && wordCount <= len(words), "packet.Set: bad word count")

	p.Frame = FromWord(words[0])
	n := int(p.Frame.Length)
	if n > wordCount-1 {
		n = wordCount - 1
	}
	if cap(p.Payload) < n {
		p.Payload = make([]uint32, n)
	} else {
		p.Payload = p.Payload[:n]
	}
	copy(p.Payload, words[1:1+n])
}

// CRC computes the Maple 8-bit checksum: XOR-fold the frame word and every
// payload word into a running 32-bit accumulator, then XOR-fold that
// accumulator's four bytes down to one. This is numerically identical to
// XORing every wire byte of the header+payload individually, but operates
// word-at-a-time because that's how the data arrives off DMA.
func (p *Packet) CRC() uint8 {
	var acc uint32
	acc ^= p.Frame.ToWord()
	for _, w := range p.Payload {
		acc ^= w
	}
	return uint8(acc>>24) ^ uint8(acc>>16) ^ uint8(acc>>8) ^ uint8(acc)
}
