package av

// Packet is an exclusively owned compressed data unit. The zero value and nil
// are null handles. A packet is released with Free and handed to a new owner
// with Move.
type Packet struct {
	res         *Resource
	data        []byte
	streamIndex int
	pts         int64
	dts         int64
	duration    int64
	key         bool
}

// AllocPacket returns an empty packet owned by the caller.
func AllocPacket() *Packet {
	r := &Resource{}
	r.Track(KindPacket)
	return &Packet{res: r}
}

// IsNull reports whether p owns nothing.
func (p *Packet) IsNull() bool {
	return p == nil || p.res == nil
}

// Free releases the packet. It is safe to call more than once.
func (p *Packet) Free() {
	if p.IsNull() {
		return
	}
	p.res.Release()
	*p = Packet{}
}

// Move hands ownership to the returned handle and leaves p null.
func (p *Packet) Move() *Packet {
	if p.IsNull() {
		return nil
	}
	moved := *p
	*p = Packet{}
	return &moved
}

// Unref drops the payload and metadata but keeps the handle allocated.
func (p *Packet) Unref() {
	if p.IsNull() {
		return
	}
	res := p.res
	*p = Packet{res: res}
}

func (p *Packet) Data() []byte {
	if p.IsNull() {
		return nil
	}
	return p.data
}

// SetData makes b the packet payload. The packet takes ownership of b.
func (p *Packet) SetData(b []byte) {
	if p.IsNull() {
		return
	}
	p.data = b
}

func (p *Packet) Size() int { return len(p.Data()) }

func (p *Packet) StreamIndex() int {
	if p.IsNull() {
		return -1
	}
	return p.streamIndex
}

func (p *Packet) SetStreamIndex(i int) {
	if !p.IsNull() {
		p.streamIndex = i
	}
}

func (p *Packet) Pts() int64 {
	if p.IsNull() {
		return 0
	}
	return p.pts
}

func (p *Packet) SetPts(v int64) {
	if !p.IsNull() {
		p.pts = v
	}
}

func (p *Packet) Dts() int64 {
	if p.IsNull() {
		return 0
	}
	return p.dts
}

func (p *Packet) SetDts(v int64) {
	if !p.IsNull() {
		p.dts = v
	}
}

func (p *Packet) Duration() int64 {
	if p.IsNull() {
		return 0
	}
	return p.duration
}

func (p *Packet) SetDuration(v int64) {
	if !p.IsNull() {
		p.duration = v
	}
}

func (p *Packet) KeyFrame() bool {
	return !p.IsNull() && p.key
}

func (p *Packet) SetKeyFrame(key bool) {
	if !p.IsNull() {
		p.key = key
	}
}
