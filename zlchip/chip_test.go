package zlchip

import (
	"errors"
	"testing"

	"github.com/retroenv/retrogolib/assert"
)

// stubBus simulates the device side of the half-duplex echo protocol. It
// tracks the page select register and counts transactions.
type stubBus struct {
	page    uint8
	regs    map[[2]uint8][]byte // (page, offset) -> payload
	txCount int
	shortAt int // when > 0, the n-th transaction transfers one byte short
	failAt  int // when > 0, the n-th transaction fails outright
}

func (b *stubBus) tx(tx, rx []byte) (int, error) {
	b.txCount++

	if b.failAt == b.txCount {
		return 0, errors.New("simulated bus failure")
	}
	if b.shortAt == b.txCount {
		return len(tx) - 1, nil
	}

	if rx == nil {
		if len(tx) == 2 && tx[0] == PageSelReg {
			b.page = tx[1]
		}
		return len(tx), nil
	}

	rx[0] = tx[0] // echoed address byte
	copy(rx[1:], b.regs[[2]uint8{b.page, tx[0]}])

	return len(tx), nil
}

func newStubChip(t *testing.T, bus *stubBus) *Chip {
	t.Helper()

	c, err := New(bus.tx, nil, nil)
	assert.NoError(t, err)

	return c
}

func TestNewNilTxFunc(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestSplitAddressRoundTrip(t *testing.T) {
	for addr := uint16(0); addr <= 0x7FF; addr++ {
		page, offset := SplitAddress(addr)

		assert.Equal(t, uint8(addr>>7), page)
		assert.Equal(t, uint8(addr&0x7F), offset)
		assert.Equal(t, int(addr), int(page)*PageSize+int(offset))
	}
}

func TestSelectPage(t *testing.T) {
	bus := &stubBus{}
	c := newStubChip(t, bus)

	assert.NoError(t, c.SelectPage(0x0A))
	assert.Equal(t, uint8(0x0A), bus.page)
	assert.Equal(t, 1, bus.txCount)
}

func TestSelectPageOutOfRange(t *testing.T) {
	bus := &stubBus{}
	c := newStubChip(t, bus)

	err := c.SelectPage(16)

	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, 0, bus.txCount)
}

func TestReadRegisterLengthValidation(t *testing.T) {
	bus := &stubBus{}
	c := newStubChip(t, bus)

	for _, length := range []int{-1, 0, 256} {
		_, err := c.ReadRegister(RegID, length)

		assert.True(t, errors.Is(err, ErrInvalidArgument))
		assert.Equal(t, 0, bus.txCount)
	}
}

func TestReadRegisterSelectsPage(t *testing.T) {
	bus := &stubBus{
		page: 0x0F,
		regs: map[[2]uint8][]byte{
			{0x03, 0x05}: {0xAB, 0xCD},
		},
	}
	c := newStubChip(t, bus)

	// logical 0x0185 = page 3, offset 5
	buf, err := c.ReadRegister(0x0185, 2)

	assert.NoError(t, err)
	assert.Equal(t, uint8(0x03), bus.page)
	assert.Equal(t, 2, bus.txCount)
	assert.Equal(t, []byte{0xAB, 0xCD}, buf)
}

func TestReadRegisterDiscardsEcho(t *testing.T) {
	bus := &stubBus{
		regs: map[[2]uint8][]byte{
			{0x00, 0x01}: {0x0E, 0x95},
		},
	}
	c := newStubChip(t, bus)

	buf, err := c.ReadRegister(RegID, 2)

	assert.NoError(t, err)
	assert.Equal(t, []byte{0x0E, 0x95}, buf)
}

func TestReadRegisterShortTransfer(t *testing.T) {
	// transaction 1 is the page select, transaction 2 the read
	bus := &stubBus{shortAt: 2}
	c := newStubChip(t, bus)

	_, err := c.ReadRegister(RegID, 2)

	assert.True(t, errors.Is(err, ErrBus))
}

func TestReadRegisterBusFailure(t *testing.T) {
	bus := &stubBus{failAt: 1}
	c := newStubChip(t, bus)

	_, err := c.ReadRegister(RegID, 2)

	assert.True(t, errors.Is(err, ErrBus))
}

func TestDecodeBE(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want uint32
	}{
		{"u8", []byte{0x5A}, 0x5A},
		{"u16", []byte{0x0E, 0x95}, 0x0E95},
		{"u16 max", []byte{0xFF, 0xFF}, 0xFFFF},
		{"u32", []byte{0x01, 0x02, 0x03, 0x04}, 0x01020304},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := decodeBE(tt.buf)

			assert.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestDecodeBEUnsupportedWidth(t *testing.T) {
	for _, buf := range [][]byte{nil, make([]byte, 3), make([]byte, 5)} {
		_, err := decodeBE(buf)
		assert.True(t, errors.Is(err, ErrUnsupported))
	}
}

func TestReadTyped(t *testing.T) {
	bus := &stubBus{
		regs: map[[2]uint8][]byte{
			{0x00, 0x01}: {0x0E, 0x95},
			{0x00, 0x07}: {0x00, 0x00, 0x00, 0x01},
			{0x00, 0x10}: {0x42},
		},
	}
	c := newStubChip(t, bus)

	v16, err := c.ReadU16(RegID)
	assert.NoError(t, err)
	assert.Equal(t, uint16(0x0E95), v16)

	v32, err := c.ReadU32(RegCustomConfigVer)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x00000001), v32)

	v8, err := c.ReadU8(0x0010)
	assert.NoError(t, err)
	assert.Equal(t, uint8(0x42), v8)
}

func TestCloseInvokesCloseFunc(t *testing.T) {
	closed := 0
	bus := &stubBus{}

	c, err := New(bus.tx, func() error {
		closed++
		return nil
	}, nil)
	assert.NoError(t, err)

	assert.NoError(t, c.Close())
	assert.Equal(t, 1, closed)
}
