package bench

// Pattern generates the deterministic byte ramp written during OUT
// benchmarks. The sequence continues across Fill calls, so consecutive
// transfer buffers form one uninterrupted ramp the device side can check.
type Pattern struct {
	next byte
}

func NewPattern() *Pattern {
	return &Pattern{}
}

// Fill overwrites buf with the next chunk of the ramp.
func (p *Pattern) Fill(buf []byte) {
	for i := range buf {
		buf[i] = p.next
		p.next++
	}
}
