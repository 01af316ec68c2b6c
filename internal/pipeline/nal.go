package pipeline

// sealAccessUnit ensures an access unit that contains an IDR slice also
// carries SPS/PPS ahead of it, inlining the format-level parameter sets
// captured at Setup time when the RTP stream itself omits them on some
// keyframes (common with cameras that only send SPS/PPS once at session
// start). This keeps every segment file independently decodable from its
// first keyframe: SPS/PPS stay inlined ahead of every keyframe.
func sealAccessUnit(au AccessUnit, sps, pps []byte) AccessUnit {
	if !au.IsKeyframe() || len(sps) == 0 || len(pps) == 0 {
		return au
	}
	if au.hasParameterSets() {
		return au
	}

	sealed := make([]NALU, 0, len(au.NALUs)+2)
	sealed = append(sealed, NALU(sps), NALU(pps))
	sealed = append(sealed, au.NALUs...)
	au.NALUs = sealed
	return au
}

func (a AccessUnit) hasParameterSets() bool {
	var haveSPS, havePPS bool
	for _, n := range a.NALUs {
		switch n.Type() {
		case naluTypeSPS:
			haveSPS = true
		case naluTypePPS:
			havePPS = true
		}
	}
	return haveSPS && havePPS
}

// AnnexB renders an access unit as a contiguous Annex-B byte stream (each
// NAL unit prefixed with a start code), the form ffmpeg's raw H.264 demuxer
// expects on stdin.
func AnnexB(au AccessUnit) []byte {
	startCode := []byte{0x00, 0x00, 0x00, 0x01}
	size := 0
	for _, n := range au.NALUs {
		size += len(startCode) + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range au.NALUs {
		out = append(out, startCode...)
		out = append(out, n...)
	}
	return out
}
