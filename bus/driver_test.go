package bus_test

import (
	"testing"

	"github.com/OrangeFox86/DreamPort/bus"
	"github.com/OrangeFox86/DreamPort/bus/pio/stub"
	"github.com/OrangeFox86/DreamPort/clock"
	"github.com/OrangeFox86/DreamPort/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDriver() (*bus.Driver, *stub.Backend, *clock.Fake) {
	backend := stub.New()
	fake := clock.NewFake(1000)
	return bus.NewDriver(backend, fake), backend, fake
}

// responseFrame builds the raw word buffer a well-formed incoming response
// would leave behind: frame word with its length set from payload, the
// payload, then a correctly computed CRC word.
func responseFrame(command, recipient, sender uint8, payload []uint32) []uint32 {
	p := packet.NewPacket(command, recipient, sender, payload)
	words := make([]uint32, 1+len(payload)+1)
	words[0] = p.Frame.ToWord()
	copy(words[1:], payload)
	words[1+len(payload)] = uint32(p.CRC())
	return words
}

func TestWrite_IdleGating(t *testing.T) {
	d, backend, _ := newDriver()
	p := packet.NewPacket(0x01, 0x20, 0x00, nil)

	require.True(t, d.Write(&p, false, clock.NoTimeout, bus.DelayDefinition{}))
	assert.False(t, d.Write(&p, false, clock.NoTimeout, bus.DelayDefinition{}))
	assert.False(t, d.StartRead(clock.NoTimeout))

	require.Len(t, backend.TxLog(), 1)
}

func TestStartRead_IdleGating(t *testing.T) {
	d, _, _ := newDriver()
	require.True(t, d.StartRead(clock.NoTimeout))
	assert.False(t, d.StartRead(clock.NoTimeout))
}

func TestWrite_LineNotIdle(t *testing.T) {
	d, backend, _ := newDriver()
	backend.SetLineIdle(false)
	p := packet.NewPacket(0x01, 0x20, 0x00, nil)

	assert.False(t, d.Write(&p, false, clock.NoTimeout, bus.DelayDefinition{}))
	assert.Equal(t, bus.Idle, d.Phase())
	assert.Empty(t, backend.TxLog())
}

func TestWriteThenRead_RoundTrip(t *testing.T) {
	d, backend, fake := newDriver()
	p := packet.NewPacket(0x01, 0x20, 0x00, []uint32{0xAABBCCDD})

	require.True(t, d.Write(&p, true, clock.NoTimeout, bus.DelayDefinition{}))
	assert.Equal(t, bus.WaitingForReadStart, d.Phase())

	respWords := responseFrame(0x07, 0x00, 0x20, []uint32{0x11223344})
	backend.InjectReadFrame(respWords)
	assert.Equal(t, bus.ReadComplete, d.Phase())

	status := d.ProcessEvents(fake.NowUS())
	require.Equal(t, bus.ReadComplete, status.Phase)
	require.NotNil(t, status.Packet)
	assert.Equal(t, uint8(0x07), status.Packet.Frame.Command)
	assert.Equal(t, []uint32{0x11223344}, status.Packet.Payload)
	assert.Equal(t, bus.Idle, d.Phase())
}

func TestWrite_NoAutoRead_CompletesAsWrite(t *testing.T) {
	d, _, fake := newDriver()
	p := packet.NewPacket(0x01, 0x20, 0x00, nil)

	require.True(t, d.Write(&p, false, clock.NoTimeout, bus.DelayDefinition{}))
	assert.Equal(t, bus.WriteComplete, d.Phase())

	status := d.ProcessEvents(fake.NowUS())
	assert.Equal(t, bus.WriteComplete, status.Phase)
	assert.Equal(t, bus.Idle, d.Phase())
}

func TestRead_ShortRead_MissingData(t *testing.T) {
	d, backend, fake := newDriver()
	require.True(t, d.StartRead(clock.NoTimeout))

	// Frame word declares two payload words but only the frame word itself
	// arrives before the end sequence.
	frame := packet.NewPacket(0x07, 0x00, 0x20, []uint32{0, 0}).Frame
	backend.InjectShortRead([]uint32{frame.ToWord()})

	status := d.ProcessEvents(fake.NowUS())
	assert.Equal(t, bus.ReadFailed, status.Phase)
	assert.Equal(t, bus.MissingData, status.FailureReason)
	assert.Nil(t, status.Packet)
	assert.Equal(t, bus.Idle, d.Phase())
}

func TestRead_NoWordsAtAll_MissingData(t *testing.T) {
	d, backend, fake := newDriver()
	require.True(t, d.StartRead(clock.NoTimeout))

	backend.InjectShortRead(nil)

	status := d.ProcessEvents(fake.NowUS())
	assert.Equal(t, bus.ReadFailed, status.Phase)
	assert.Equal(t, bus.MissingData, status.FailureReason)
}

func TestRead_BadCRC(t *testing.T) {
	d, backend, fake := newDriver()
	require.True(t, d.StartRead(clock.NoTimeout))

	words := responseFrame(0x07, 0x00, 0x20, []uint32{0xDEADBEEF})
	backend.InjectReadFrameBadCRC(words)

	status := d.ProcessEvents(fake.NowUS())
	assert.Equal(t, bus.ReadFailed, status.Phase)
	assert.Equal(t, bus.CRCInvalid, status.FailureReason)
}

func TestRead_BufferOverflow(t *testing.T) {
	d, backend, fake := newDriver()
	require.True(t, d.StartRead(clock.NoTimeout))

	backend.InjectBufferOverflow()

	status := d.ProcessEvents(fake.NowUS())
	assert.Equal(t, bus.ReadFailed, status.Phase)
	assert.Equal(t, bus.BufferOverflow, status.FailureReason)
	assert.Equal(t, bus.Idle, d.Phase())
}

func TestRead_InterWordSilenceTimeout(t *testing.T) {
	d, backend, fake := newDriver()
	require.True(t, d.StartRead(clock.NoTimeout))

	backend.InjectPartialRead([]uint32{0x01020304})
	assert.Equal(t, bus.ReadInProgress, d.Phase())

	status := d.ProcessEvents(fake.NowUS())
	assert.Equal(t, bus.ReadInProgress, status.Phase)
	assert.Equal(t, bus.ReadInProgress, d.Phase())

	fake.Advance(clock.MapleInterWordReadTimeoutUS)
	status = d.ProcessEvents(fake.NowUS())
	assert.Equal(t, bus.ReadFailed, status.Phase)
	assert.Equal(t, bus.Timeout, status.FailureReason)
	assert.Equal(t, bus.Idle, d.Phase())
}

func TestStartRead_NeverStarts_Timeout(t *testing.T) {
	d, _, fake := newDriver()
	require.True(t, d.StartRead(1000))

	fake.Advance(999)
	status := d.ProcessEvents(fake.NowUS())
	assert.Equal(t, bus.WaitingForReadStart, status.Phase)

	fake.Advance(1)
	status = d.ProcessEvents(fake.NowUS())
	assert.Equal(t, bus.ReadFailed, status.Phase)
	assert.Equal(t, bus.Timeout, status.FailureReason)
	assert.Equal(t, bus.Idle, d.Phase())
}

func TestWrite_NeverCompletes_WriteFailedTimeout(t *testing.T) {
	d, backend, fake := newDriver()
	backend.SetSuppressTxDone(true)
	p := packet.NewPacket(0x01, 0x20, 0x00, []uint32{1, 2, 3})

	require.True(t, d.Write(&p, false, clock.NoTimeout, bus.DelayDefinition{}))
	assert.Equal(t, bus.WriteInProgress, d.Phase())

	fake.Advance(1_000_000)
	status := d.ProcessEvents(fake.NowUS())
	assert.Equal(t, bus.WriteFailed, status.Phase)
	assert.Equal(t, bus.Timeout, status.FailureReason)
	assert.Equal(t, bus.Idle, d.Phase())
}

func TestWrite_WaitingForReadStartAfterTxDone(t *testing.T) {
	d, backend, fake := newDriver()
	p := packet.NewPacket(0x01, 0x20, 0x00, nil)

	require.True(t, d.Write(&p, true, 500, bus.DelayDefinition{}))
	assert.Equal(t, bus.WaitingForReadStart, d.Phase())
	assert.False(t, backend.Direction())

	fake.Advance(500)
	status := d.ProcessEvents(fake.NowUS())
	assert.Equal(t, bus.ReadFailed, status.Phase)
	assert.Equal(t, bus.Timeout, status.FailureReason)
}
