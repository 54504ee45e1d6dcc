package nosip

// CodecInfo describes a static RTP payload type as registered in the
// IANA RTP/AVP profile. The recorder code does not consult this table:
// recorders are opened without codec metadata.
type CodecInfo struct {
	Name       string
	SampleRate int
	Channels   int
}

// staticPayloadTypes covers the handful of codecs a plain-RTP legacy
// peer is realistically offering; dynamic payload types (96-127) are
// not listed here, and no rtpmap lookup is done for them.
var staticPayloadTypes = map[byte]CodecInfo{
	0:  {Name: "PCMU", SampleRate: 8000, Channels: 1},
	3:  {Name: "GSM", SampleRate: 8000, Channels: 1},
	4:  {Name: "G723", SampleRate: 8000, Channels: 1},
	8:  {Name: "PCMA", SampleRate: 8000, Channels: 1},
	9:  {Name: "G722", SampleRate: 8000, Channels: 1},
	18: {Name: "G729", SampleRate: 8000, Channels: 1},
	34: {Name: "H263", SampleRate: 90000, Channels: 1},
}

// GetCodecInfo resolves a static payload type to its codec metadata.
func GetCodecInfo(pt byte) (CodecInfo, bool) {
	info, ok := staticPayloadTypes[pt]
	return info, ok
}

// CodecName returns a best-effort codec label for pt, falling back to
// "dynamic" when it isn't statically registered.
func CodecName(pt byte) string {
	if info, ok := staticPayloadTypes[pt]; ok {
		return info.Name
	}
	return "dynamic"
}
