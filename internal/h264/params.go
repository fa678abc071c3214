package h264

import (
	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

var ErrNoParameterSets = errors.New("SPS/PPS not found")

// ParameterSets extracts the first SPS and PPS from encoder extradata or from
// an access unit. Annex-B, AVCC access units and avcC records are accepted.
func ParameterSets(data []byte) (sps, pps []byte, err error) {
	if len(data) == 0 {
		return nil, nil, ErrNoParameterSets
	}
	if data[0] == 0x01 {
		if s, p, ok := ParseAvccForSpsPps(data); ok {
			return s, p, nil
		}
	}

	var nalus [][]byte
	if IsAnnexB(data) {
		var au mch264.AnnexB
		if err := au.Unmarshal(data); err != nil {
			return nil, nil, errors.Wrap(err, "parse Annex-B")
		}
		nalus = au
	} else {
		nalus, err = SplitAVCC(data)
		if err != nil {
			return nil, nil, err
		}
	}

	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch mch264.NALUType(nalu[0] & 0x1F) {
		case mch264.NALUTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case mch264.NALUTypePPS:
			if pps == nil {
				pps = nalu
			}
		}
	}
	if sps == nil || pps == nil {
		return nil, nil, ErrNoParameterSets
	}
	return sps, pps, nil
}

// HasIDR reports whether an AVCC access unit contains an IDR slice.
func HasIDR(avcc []byte) bool {
	nalus, err := SplitAVCC(avcc)
	if err != nil {
		return false
	}
	for _, nalu := range nalus {
		if len(nalu) > 0 && mch264.NALUType(nalu[0]&0x1F) == mch264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// ParseAvccForSpsPps extracts SPS/PPS from an avcC box payload.
func ParseAvccForSpsPps(avcc []byte) (sps, pps []byte, ok bool) {
	if len(avcc) < 7 || avcc[0] != 0x01 {
		return nil, nil, false
	}
	// version, profile, compatibility, level, lengthSizeMinusOne, then
	// numOfSPS in the low 3 bits followed by 16-bit length prefixed SPS.
	i := 5
	numSps := int(avcc[i] & 0x07)
	i++
	for n := 0; n < numSps && i+2 <= len(avcc); n++ {
		l := int(avcc[i])<<8 | int(avcc[i+1])
		i += 2
		if i+l > len(avcc) {
			return nil, nil, false
		}
		if l > 0 && sps == nil {
			sps = append([]byte{}, avcc[i:i+l]...)
		}
		i += l
	}
	if i >= len(avcc) {
		return sps, nil, false
	}

	numPps := int(avcc[i])
	i++
	for n := 0; n < numPps && i+2 <= len(avcc); n++ {
		l := int(avcc[i])<<8 | int(avcc[i+1])
		i += 2
		if i+l > len(avcc) {
			return sps, pps, sps != nil && pps != nil
		}
		if l > 0 && pps == nil {
			pps = append([]byte{}, avcc[i:i+l]...)
		}
		i += l
	}
	return sps, pps, sps != nil && pps != nil
}

// BuildAvcC serializes an AVCDecoderConfigurationRecord holding one SPS and
// one PPS, as stored in Matroska CodecPrivate.
func BuildAvcC(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 || len(pps) == 0 {
		return nil, ErrNoParameterSets
	}
	out := make([]byte, 0, 11+len(sps)+len(pps))
	out = append(out,
		0x01,   // version
		sps[1], // profile
		sps[2], // compatibility
		sps[3], // level
		0xFF,   // 4-byte NALU lengths
		0xE1,   // one SPS
		byte(len(sps)>>8), byte(len(sps)),
	)
	out = append(out, sps...)
	out = append(out, 0x01, byte(len(pps)>>8), byte(len(pps)))
	out = append(out, pps...)
	return out, nil
}
