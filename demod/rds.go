package demod

import (
	"math"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/rxdsp/config"
	"github.com/jrwynneiii/rxdsp/ring"
	SatHelper "github.com/opensatelliteproject/libsathelper"
	"github.com/racerxdl/segdsp/dsp"
)

const (
	rdsHalfSymbolRate = 2375.0 // biphase chips per second
	rdsTargetRate     = rdsHalfSymbolRate * 8
	rdsQueueSize      = 64

	rdsPoly      = 0x5B9
	rdsBlockBits = 26

	rdsSyncWindow   = 50 // blocks
	rdsSyncMaxError = 12

	// chip clock loop gains
	rdsClockMuGain = 0.175
	rdsClockLimit  = 0.005
)

// Offset words, indexed by position in the group. C' replaces C in
// version B groups.
var rdsOffsets = [4]uint16{0x0FC, 0x198, 0x168, 0x1B4}

const rdsOffsetCPrime = 0x350

func rdsSyndrome(block uint32) uint16 {
	r := block & (1<<rdsBlockBits - 1)
	for i := rdsBlockBits - 1; i >= 10; i-- {
		if r&(1<<i) != 0 {
			r ^= rdsPoly << (i - 10)
		}
	}
	return uint16(r & 0x3FF)
}

// rdsEncode builds a 26 bit block from data and an offset word.
func rdsEncode(data uint16, offset uint16) uint32 {
	check := rdsSyndrome(uint32(data)<<10) ^ offset
	return uint32(data)<<10 | uint32(check)
}

func rdsOffsetIndex(syndrome uint16) int {
	for i, o := range rdsOffsets {
		if syndrome == o {
			return i
		}
	}
	if syndrome == rdsOffsetCPrime {
		return 2
	}
	return -1
}

// rdsSync finds block boundaries in the bit stream and assembles groups.
type rdsSync struct {
	reg    uint32
	synced bool
	bits   int // bits since the last block boundary

	// acquisition: last block seen and its position
	lastIndex int
	lastBits  int
	lastBlock uint16
	seen      bool

	expect int
	blocks [4]uint16
	good   int // bitmask of error free blocks in the current group

	history   [rdsSyncWindow]bool
	histPos   int
	histError int

	emit func(RdsGroup)
}

func newRdsSync(emit func(RdsGroup)) *rdsSync {
	return &rdsSync{emit: emit}
}

func (s *rdsSync) bit(b byte) {
	s.reg = (s.reg<<1 | uint32(b&1)) & (1<<rdsBlockBits - 1)
	s.bits++

	if !s.synced {
		s.acquire()
		return
	}
	if s.bits < rdsBlockBits {
		return
	}
	s.bits = 0

	idx := rdsOffsetIndex(rdsSyndrome(s.reg))
	ok := idx == s.expect
	s.record(!ok)
	if ok {
		s.blocks[s.expect] = uint16(s.reg >> 10)
		s.good |= 1 << s.expect
	}
	if s.expect == 3 {
		if s.good == 0xF {
			s.emit(RdsGroup{BlockA: s.blocks[0], BlockB: s.blocks[1], BlockC: s.blocks[2], BlockD: s.blocks[3]})
		}
		s.good = 0
	}
	s.expect = (s.expect + 1) % 4

	if s.histError > rdsSyncMaxError {
		log.Debugf("[rds] Lost sync")
		s.synced = false
		s.seen = false
		s.emit(RdsGroup{})
	}
}

// acquire waits for two valid blocks exactly one block length apart and in
// sequence.
func (s *rdsSync) acquire() {
	idx := rdsOffsetIndex(rdsSyndrome(s.reg))
	if idx < 0 {
		return
	}
	if s.seen && s.bits-s.lastBits == rdsBlockBits && idx == (s.lastIndex+1)%4 {
		s.synced = true
		s.bits = 0
		s.expect = (idx + 1) % 4
		s.blocks[idx] = uint16(s.reg >> 10)
		s.good = 1 << idx
		if s.lastIndex < idx {
			s.blocks[s.lastIndex] = s.lastBlock
			s.good |= 1 << s.lastIndex
		}
		s.history = [rdsSyncWindow]bool{}
		s.histError = 0
		log.Debugf("[rds] Block sync acquired at block %d", idx)
		return
	}
	s.seen = true
	s.lastIndex = idx
	s.lastBits = s.bits
	s.lastBlock = uint16(s.reg >> 10)
}

func (s *rdsSync) record(bad bool) {
	if s.history[s.histPos] {
		s.histError--
	}
	s.history[s.histPos] = bad
	if bad {
		s.histError++
	}
	s.histPos = (s.histPos + 1) % rdsSyncWindow
}

// rdsDecoder recovers data groups from the 57 kHz subcarrier of the MPX
// signal.
type rdsDecoder struct {
	decim   int
	rate    float64
	carry   *ring.Buffer[complex64]
	work    []complex64
	filter  *dsp.FirFilter
	costas  dsp.CostasLoop
	clock   SatHelper.ClockRecovery
	symbols []complex64

	prevChip    float32
	chipCount   int
	phaseEnergy [2]float64
	prevSym     bool

	framer *rdsSync

	mtx    sync.Mutex
	groups *ring.Buffer[RdsGroup]
}

func newRdsDecoder(mpxRate float64, conf config.DigitalConf) *rdsDecoder {
	decim := max(1, int(mpxRate/rdsTargetRate))
	r := &rdsDecoder{
		decim:   decim,
		rate:    mpxRate / float64(decim),
		carry:   ring.New[complex64](config.MaxMagBufSize + decim),
		work:    make([]complex64, config.MaxMagBufSize+decim),
		filter:  dsp.MakeDecimationFirFilter(decim, dsp.MakeLowPass(1, mpxRate, 2800, 2000)),
		costas:  dsp.MakeCostasLoop2(conf.CostasBandwidth / 2),
		symbols: make([]complex64, config.MaxMagBufSize/decim+1),
		groups:  ring.New[RdsGroup](rdsQueueSize),
	}
	sps := float32(r.rate / rdsHalfSymbolRate)
	r.clock = SatHelper.NewClockRecovery(sps, rdsClockMuGain*rdsClockMuGain/4, conf.Mu, rdsClockMuGain, rdsClockLimit)
	r.framer = newRdsSync(r.push)
	log.Debugf("[rds] Subcarrier at %.0f Hz, %.2f samples per chip", r.rate, sps)
	return r
}

func (r *rdsDecoder) push(g RdsGroup) {
	r.mtx.Lock()
	if r.groups.Push(g) {
		log.Debugf("[rds] Group queue full, dropped oldest")
	}
	r.mtx.Unlock()
}

func (r *rdsDecoder) next() (RdsGroup, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.groups.Pop()
}

// process takes the subcarrier already mixed down to 0 Hz. len(in) must not
// exceed MaxMagBufSize.
func (r *rdsDecoder) process(in []complex64) {
	if err := r.carry.Write(in); err != nil {
		log.Warnf("[rds] %v", err)
		r.carry.Reset()
		return
	}
	n := (r.carry.Len() / r.decim) * r.decim
	if n == 0 {
		return
	}
	x := r.work[:n]
	r.carry.Read(x)
	x = x[:r.filter.WorkBuffer(x, x)]
	if len(x) == 0 {
		return
	}
	r.costas.WorkBuffer(x, x)

	if len(r.symbols) < len(x) {
		r.symbols = make([]complex64, len(x))
	}
	count := r.clock.Work(&x[0], &r.symbols[0], len(x))
	for _, c := range r.symbols[:count] {
		r.chip(real(c))
	}
}

// chip pairs biphase half symbols. The pairing with more energy in the
// difference is the bit boundary.
func (r *rdsDecoder) chip(v float32) {
	d := v - r.prevChip
	r.prevChip = v
	p := r.chipCount & 1
	r.chipCount++
	r.phaseEnergy[p] = 0.99*r.phaseEnergy[p] + 0.01*math.Abs(float64(d))

	best := 0
	if r.phaseEnergy[1] > r.phaseEnergy[0] {
		best = 1
	}
	if p != best {
		return
	}
	sym := d > 0
	var b byte
	if sym != r.prevSym {
		b = 1
	}
	r.prevSym = sym
	r.framer.bit(b)
}

func (r *rdsDecoder) close() {
	if r.clock != nil {
		SatHelper.DeleteClockRecovery(r.clock)
		r.clock = nil
	}
}
