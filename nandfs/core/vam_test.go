package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVamBasics(t *testing.T) {
	vam := NewVAM()

	assert.Equal(t, uint32(0), vam.GetAvailableAddress(10))
	assert.Equal(t, uint32(10), vam.GetAvailableAddress(10))

	for i := uint32(0); i < 10; i++ {
		vam.InsertMap(i, 10+i)
	}
	phys, ok := vam.GetPhysicAddress(14)
	assert.True(t, ok)
	assert.Equal(t, uint32(4), phys)
	virt, ok := vam.GetVirtualAddress(2)
	assert.True(t, ok)
	assert.Equal(t, uint32(12), virt)

	vam.UpdateMap(100, 13)
	phys, ok = vam.GetPhysicAddress(13)
	assert.True(t, ok)
	assert.Equal(t, uint32(100), phys)
	virt, ok = vam.GetVirtualAddress(100)
	assert.True(t, ok)
	assert.Equal(t, uint32(13), virt)

	vam.DeleteMap(100, 13)
	_, ok = vam.GetPhysicAddress(13)
	assert.False(t, ok)
	_, ok = vam.GetVirtualAddress(100)
	assert.False(t, ok)
}

func TestVamBijectionViolationsPanic(t *testing.T) {
	vam := NewVAM()
	vam.InsertMap(1, 100)

	assert.Panics(t, func() {
		vam.InsertMap(1, 200)
	})
	assert.Panics(t, func() {
		vam.InsertMap(2, 100)
	})
	assert.Panics(t, func() {
		vam.DeleteMap(3, 300)
	})
	assert.Panics(t, func() {
		vam.UpdateMap(5, 999)
	})
}

// 双向表在任何操作序列后保持单射
func TestVamStaysBijective(t *testing.T) {
	vam := NewVAM()
	for i := uint32(0); i < 64; i++ {
		vam.InsertMap(i, 1000+i)
	}
	for i := uint32(0); i < 64; i += 2 {
		vam.UpdateMap(2000+i, 1000+i)
	}
	for i := uint32(1); i < 64; i += 2 {
		vam.DeleteMap(i, 1000+i)
	}
	assert.Equal(t, 32, vam.Len())
	for i := uint32(0); i < 64; i += 2 {
		phys, ok := vam.GetPhysicAddress(1000 + i)
		assert.True(t, ok)
		virt, ok2 := vam.GetVirtualAddress(phys)
		assert.True(t, ok2)
		assert.Equal(t, 1000+i, virt)
	}
}
