// Package datalink drains the data the receiver produces for external
// decoders and keeps running tallies of it for display.
package datalink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/demod"
)

// GroupTypes names the common RDS group types.
var GroupTypes = map[string]string{
	"0A":  "Basic tuning",
	"0B":  "Basic tuning",
	"1A":  "Programme item",
	"2A":  "RadioText",
	"2B":  "RadioText",
	"3A":  "Open data apps",
	"4A":  "Clock time",
	"8A":  "Traffic channel",
	"10A": "PTY name",
	"14A": "Other networks",
	"14B": "Other networks",
	"15A": "Long PS",
	"15B": "Fast tuning",
}

// GroupType returns the "<n><A|B>" type code of a group.
func GroupType(g demod.RdsGroup) string {
	version := "A"
	if g.BlockB&0x0800 != 0 {
		version = "B"
	}
	return fmt.Sprintf("%d%s", g.BlockB>>12, version)
}

// Source is the receiver side of the monitor.
type Source interface {
	Mode() config.Mode
	GetNextRdsGroupData() (demod.RdsGroup, bool)
	GetStereoLock() (locked, changed bool)
	ReadSymbols(p []byte) int
}

type Stats struct {
	TotalGroups   int
	GroupsPerType map[string]int
	SignalLosses  int
	PI            uint16
	PTY           int
	StereoLock    bool
	StereoChanges int
	Symbols       int
	// SymbolQuality is the mean soft decision magnitude of the last poll in
	// percent. PSK only.
	SymbolQuality float32
}

type Monitor struct {
	src  Source
	syms []byte

	mtx   sync.Mutex
	stats Stats
	// Symbols passes drained symbols on to an external decoder. Full
	// channels drop.
	Symbols chan []byte
}

func New(src Source, bufsize int) *Monitor {
	return &Monitor{
		src:     src,
		syms:    make([]byte, config.MaxMagBufSize),
		stats:   Stats{GroupsPerType: make(map[string]int)},
		Symbols: make(chan []byte, bufsize),
	}
}

// Poll drains everything the source has pending.
func (m *Monitor) Poll() {
	locked, changed := m.src.GetStereoLock()

	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.stats.StereoLock = locked
	if changed {
		m.stats.StereoChanges++
		log.Infof("[datalink] Stereo lock: %v", locked)
	}

	for {
		g, ok := m.src.GetNextRdsGroupData()
		if !ok {
			break
		}
		if g.BlockA == 0 {
			m.stats.SignalLosses++
			log.Debug("[datalink] Data signal lost")
			continue
		}
		t := GroupType(g)
		m.stats.TotalGroups++
		m.stats.GroupsPerType[t]++
		m.stats.PI = g.BlockA
		m.stats.PTY = int(g.BlockB>>5) & 0x1F
		log.Debugf("[datalink] Group %s from %04X", t, g.BlockA)
	}

	n := m.src.ReadSymbols(m.syms)
	if n == 0 {
		return
	}
	m.stats.Symbols += n
	if m.src.Mode() == config.PSK {
		var sum int
		for _, b := range m.syms[:n] {
			v := int(int8(b))
			if v < 0 {
				v = -v
			}
			sum += v
		}
		m.stats.SymbolQuality = min(100, float32(sum)/float32(n)/127*100)
	}
	out := append([]byte(nil), m.syms[:n]...)
	select {
	case m.Symbols <- out:
	default:
		log.Debugf("[datalink] Symbol consumer is behind, dropped %d symbols", n)
	}
}

// Stats returns a copy of the tallies.
func (m *Monitor) Stats() Stats {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	s := m.stats
	s.GroupsPerType = make(map[string]int, len(m.stats.GroupsPerType))
	for k, v := range m.stats.GroupsPerType {
		s.GroupsPerType[k] = v
	}
	return s
}

// Start polls every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll()
		}
	}
}
