package av

// MediaType is the kind of elementary stream.
type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeVideo
	MediaTypeAudio
	MediaTypeData
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeData:
		return "data"
	}
	return "unknown"
}

// CodecID identifies a bitstream format.
type CodecID string

const (
	CodecIDNone     CodecID = ""
	CodecIDRawVideo CodecID = "rawvideo"
	CodecIDMJPEG    CodecID = "mjpeg"
	CodecIDH264     CodecID = "h264"
)

// CodecFlags are encoder behaviour switches negotiated with the muxer.
type CodecFlags uint32

const (
	// CodecFlagGlobalHeader asks the encoder to place parameter sets in
	// extradata instead of in every keyframe.
	CodecFlagGlobalHeader CodecFlags = 1 << iota
)

func (f CodecFlags) Has(flag CodecFlags) bool { return f&flag != 0 }

// CodecParameters describe an elementary stream independently of any codec
// state.
type CodecParameters struct {
	MediaType         MediaType
	CodecID           CodecID
	Width             int
	Height            int
	PixelFormat       PixelFormat
	SampleAspectRatio Rational
	BitRate           int64
	TimeBase          Rational
	FrameRate         Rational
	Flags             CodecFlags
	ExtraData         []byte

	// Opaque carries backend specific parameters (for example libav codec
	// parameters) alongside the portable fields.
	Opaque any
}

// Stream is one entry of a container's stream table.
type Stream struct {
	Index       int
	TimeBase    Rational
	FrameRate   Rational
	AttachedPic bool
	Params      CodecParameters
}
