package radio

// chunker regroups device reads of any length into blocks of exactly size
// samples.
type chunker struct {
	block []complex64
	fill  int
	sink  BlockSink
}

func newChunker(size int, sink BlockSink) *chunker {
	return &chunker{block: make([]complex64, size), sink: sink}
}

func (c *chunker) write(samples []complex64) error {
	for len(samples) > 0 {
		n := copy(c.block[c.fill:], samples)
		c.fill += n
		samples = samples[n:]
		if c.fill < len(c.block) {
			return nil
		}
		c.fill = 0
		if err := c.sink.ProcessBlock(c.block); err != nil {
			return err
		}
	}
	return nil
}
