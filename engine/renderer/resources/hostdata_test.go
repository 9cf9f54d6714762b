package resources

import (
	"testing"

	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
	"github.com/stretchr/testify/assert"
)

func TestHostDataInterpretation(t *testing.T) {
	u16 := U16Data([]uint16{1, 0xffff})
	assert.Equal(t, ElementU16, u16.Type())
	assert.Equal(t, []byte{1, 0, 0xff, 0xff}, u16.Bytes())
	assert.Equal(t, 2, u16.Len())
	values, ok := u16.U16()
	assert.True(t, ok)
	assert.Equal(t, []uint16{1, 0xffff}, values)
	_, ok = u16.U32()
	assert.False(t, ok, "u16 data must not be readable as u32")

	u32 := U32Data([]uint32{7})
	it, ok := u32.IndexType()
	assert.True(t, ok)
	assert.Equal(t, gpu.IndexUint32, it)

	f32 := F32Data([]float32{1.5, -2})
	assert.Equal(t, uint64(8), f32.Size())
	_, ok = f32.IndexType()
	assert.False(t, ok)
	floats, ok := f32.F32()
	assert.True(t, ok)
	assert.Equal(t, []float32{1.5, -2}, floats)

	raw := RawData([]byte{1, 2, 3})
	assert.Equal(t, ElementBytes, raw.Type())
	assert.Equal(t, 3, raw.Len())

	var empty HostData
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, "none", empty.Type().String())
	assert.Zero(t, empty.Len())
}
