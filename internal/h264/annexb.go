// Package h264 converts encoder output between Annex-B and the length
// prefixed (AVCC) layout that MP4 and Matroska store.
package h264

import (
	"github.com/pkg/errors"
)

var ErrInvalidLength = errors.New("invalid AVCC length prefix")

// AnnexBToAVCConverter converts H.264 Annex-B access units to AVCC. It reuses
// its output buffer, so the result is only valid until the next Convert.
type AnnexBToAVCConverter struct {
	buffer []byte
}

func NewAnnexBToAVCConverter() *AnnexBToAVCConverter {
	return &AnnexBToAVCConverter{
		buffer: make([]byte, 0, 256*1024),
	}
}

// Convert rewrites every start code delimited NAL unit with a 4-byte
// big-endian length prefix.
func (c *AnnexBToAVCConverter) Convert(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	c.buffer = c.buffer[:0]

	offset := 0
	for offset < len(data) {
		pos := findStartCode(data[offset:])
		if pos == -1 {
			c.appendNALU(data[offset:])
			break
		}
		start := offset + pos
		if start > offset {
			c.appendNALU(data[offset:start])
		}
		offset = start + startCodeLength(data[start:])
	}
	return c.buffer, nil
}

func (c *AnnexBToAVCConverter) appendNALU(nalu []byte) {
	if len(nalu) == 0 {
		return
	}
	l := uint32(len(nalu))
	c.buffer = append(c.buffer, byte(l>>24), byte(l>>16), byte(l>>8), byte(l))
	c.buffer = append(c.buffer, nalu...)
}

// findStartCode returns the offset of the next 3 or 4 byte start code, or -1.
func findStartCode(data []byte) int {
	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0x00 || data[i+1] != 0x00 {
			continue
		}
		if data[i+2] == 0x01 {
			return i
		}
		if i+3 < len(data) && data[i+2] == 0x00 && data[i+3] == 0x01 {
			return i
		}
	}
	return -1
}

func startCodeLength(data []byte) int {
	if len(data) >= 4 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x00 && data[3] == 0x01 {
		return 4
	}
	if len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01 {
		return 3
	}
	return 0
}

// IsAnnexB reports whether data begins with a start code.
func IsAnnexB(data []byte) bool {
	return startCodeLength(data) > 0
}

// ConvertAnnexBToAVC is a one-shot conversion returning a fresh buffer.
func ConvertAnnexBToAVC(data []byte) ([]byte, error) {
	out, err := NewAnnexBToAVCConverter().Convert(data)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), out...), nil
}

// ToAVCC returns data in AVCC layout, converting only when it is Annex-B.
func ToAVCC(data []byte) ([]byte, error) {
	if !IsAnnexB(data) {
		return data, nil
	}
	return ConvertAnnexBToAVC(data)
}

// PrependParameterSetsAVCC prepends SPS/PPS (raw NAL payloads without start
// codes) to an AVCC access unit.
func PrependParameterSetsAVCC(avcc []byte, sps []byte, pps []byte) []byte {
	if len(avcc) == 0 || len(sps) == 0 || len(pps) == 0 {
		return avcc
	}
	spsLen := uint32(len(sps))
	ppsLen := uint32(len(pps))
	out := make([]byte, 0, 4+len(sps)+4+len(pps)+len(avcc))
	out = append(out, byte(spsLen>>24), byte(spsLen>>16), byte(spsLen>>8), byte(spsLen))
	out = append(out, sps...)
	out = append(out, byte(ppsLen>>24), byte(ppsLen>>16), byte(ppsLen>>8), byte(ppsLen))
	out = append(out, pps...)
	out = append(out, avcc...)
	return out
}

// SplitAVCC returns the NAL units of an AVCC access unit.
func SplitAVCC(data []byte) ([][]byte, error) {
	var nalus [][]byte
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, errors.Wrapf(ErrInvalidLength, "truncated prefix at %d", offset)
		}
		l := int(uint32(data[offset])<<24 | uint32(data[offset+1])<<16 | uint32(data[offset+2])<<8 | uint32(data[offset+3]))
		offset += 4
		if offset+l > len(data) {
			return nil, errors.Wrapf(ErrInvalidLength, "%d", l)
		}
		nalus = append(nalus, data[offset:offset+l])
		offset += l
	}
	return nalus, nil
}

// ConvertAVCToAnnexB converts AVCC back to Annex-B with 4-byte start codes.
func ConvertAVCToAnnexB(data []byte) ([]byte, error) {
	nalus, err := SplitAVCC(data)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, nalu := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, nalu...)
	}
	return out, nil
}
