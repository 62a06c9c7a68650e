package mmu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstallResolveClear(t *testing.T) {
	s := NewSimulated()
	pd := s.NewPageDir()

	ok := s.Install(pd, 0x1000, 0x5000, true)
	assert.True(t, ok)

	paddr, found := s.Resolve(pd, 0x1000)
	assert.True(t, found)
	assert.Equal(t, uintptr(0x5000), paddr)

	s.Clear(pd, 0x1000)
	_, found = s.Resolve(pd, 0x1000)
	assert.False(t, found)
}

func TestInstallRefusesDuplicateMapping(t *testing.T) {
	s := NewSimulated()
	pd := s.NewPageDir()

	assert.True(t, s.Install(pd, 0x1000, 0x5000, true))
	assert.False(t, s.Install(pd, 0x1000, 0x6000, true), "installing over an existing mapping must fail")
}

func TestAccessedBitLifecycle(t *testing.T) {
	s := NewSimulated()
	pd := s.NewPageDir()
	s.Install(pd, 0x2000, 0x7000, false)

	assert.False(t, s.Accessed(pd, 0x2000))
	s.Touch(pd, 0x2000)
	assert.True(t, s.Accessed(pd, 0x2000))
	s.ClearAccessed(pd, 0x2000)
	assert.False(t, s.Accessed(pd, 0x2000))
}

func TestDistinctPageDirsAreIsolated(t *testing.T) {
	s := NewSimulated()
	pd1 := s.NewPageDir()
	pd2 := s.NewPageDir()
	assert.NotEqual(t, pd1, pd2)

	s.Install(pd1, 0x1000, 0x5000, true)
	_, found := s.Resolve(pd2, 0x1000)
	assert.False(t, found, "mappings must not leak across page directories")
}
