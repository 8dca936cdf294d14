package datalink

import (
	"context"
	"testing"
	"time"

	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/demod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mode    config.Mode
	groups  []demod.RdsGroup
	symbols []byte
	locked  bool
	changed bool
}

func (f *fakeSource) Mode() config.Mode { return f.mode }

func (f *fakeSource) GetNextRdsGroupData() (demod.RdsGroup, bool) {
	if len(f.groups) == 0 {
		return demod.RdsGroup{}, false
	}
	g := f.groups[0]
	f.groups = f.groups[1:]
	return g, true
}

func (f *fakeSource) GetStereoLock() (bool, bool) {
	c := f.changed
	f.changed = false
	return f.locked, c
}

func (f *fakeSource) ReadSymbols(p []byte) int {
	n := copy(p, f.symbols)
	f.symbols = f.symbols[n:]
	return n
}

func TestGroupType(t *testing.T) {
	assert.Equal(t, "0A", GroupType(demod.RdsGroup{BlockB: 0x0408}))
	assert.Equal(t, "2A", GroupType(demod.RdsGroup{BlockB: 0x2000}))
	assert.Equal(t, "15B", GroupType(demod.RdsGroup{BlockB: 0xF800}))
}

func TestPollTalliesGroups(t *testing.T) {
	src := &fakeSource{
		mode: config.WFM,
		groups: []demod.RdsGroup{
			{0x54A8, 0x0408, 0xE0CD, 0x5241},
			{0x54A8, 0x0409, 0xE0CD, 0x4449},
			{},
			{0x54A8, 0x2160, 0x4E4F, 0x5720},
		},
		locked:  true,
		changed: true,
	}
	m := New(src, 4)
	m.Poll()
	m.Poll()

	s := m.Stats()
	assert.Equal(t, 3, s.TotalGroups)
	assert.Equal(t, 2, s.GroupsPerType["0A"])
	assert.Equal(t, 1, s.GroupsPerType["2A"])
	assert.Equal(t, 1, s.SignalLosses)
	assert.Equal(t, uint16(0x54A8), s.PI)
	assert.Equal(t, 11, s.PTY)
	assert.True(t, s.StereoLock)
	assert.Equal(t, 1, s.StereoChanges)

	// the snapshot is detached from the monitor
	s.GroupsPerType["0A"] = 100
	assert.Equal(t, 2, m.Stats().GroupsPerType["0A"])
}

func TestPollForwardsSymbols(t *testing.T) {
	src := &fakeSource{mode: config.PSK, symbols: []byte{127, 0x81, 127, 0x81}}
	m := New(src, 1)
	m.Poll()

	s := m.Stats()
	assert.Equal(t, 4, s.Symbols)
	assert.InDelta(t, 100, s.SymbolQuality, 0.01)
	require.Len(t, m.Symbols, 1)
	assert.Equal(t, []byte{127, 0x81, 127, 0x81}, <-m.Symbols)

	// a full channel drops instead of blocking
	src.symbols = []byte{1, 0}
	m.Poll()
	src.symbols = []byte{1, 1}
	m.Poll()
	assert.Len(t, m.Symbols, 1)
	assert.Equal(t, 8, m.Stats().Symbols)
}

func TestStartStopsWithContext(t *testing.T) {
	src := &fakeSource{mode: config.WFM, groups: []demod.RdsGroup{{0x1234, 0x4000, 0, 0}}}
	m := New(src, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx, time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return m.Stats().TotalGroups == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
