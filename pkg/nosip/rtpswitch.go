package nosip

// SwitchContext preserves monotonically increasing RTP sequence
// numbers and timestamps across re-offers, so that a legacy peer that
// restarts its stream with a new SSRC (after being re-negotiated)
// doesn't confuse the WebRTC side with a discontinuous timeline.
//
// Only the relay loop touches a SwitchContext (it is per-kind state
// owned by the single goroutine that reads from the peer-facing
// sockets), so it needs no internal locking.
type SwitchContext struct {
	haveSSRC bool
	lastSSRC uint32

	haveSeq   bool
	seqOffset uint16
	lastSeq   uint16

	haveTS   bool
	tsOffset uint32
	lastTS   uint32

	// stride is the bootstrapped inter-packet timestamp delta, used to
	// extrapolate a timestamp offset across an SSRC switch when we
	// haven't yet observed two packets of the new stream. This is a
	// known approximation: it is wrong under packet loss on exactly
	// the second packet of a stream, and is not treated as
	// correctness-critical.
	stride      uint32
	strideKnown bool
	prevTS      uint32
	havePrevTS  bool
}

// Update rewrites (seq, ts) from an incoming packet with the given
// SSRC into a continuous timeline, latching a new base whenever the
// SSRC changes.
func (c *SwitchContext) Update(ssrc uint32, seq uint16, ts uint32) (newSeq uint16, newTS uint32) {
	switched := !c.haveSSRC || ssrc != c.lastSSRC
	c.haveSSRC = true
	c.lastSSRC = ssrc

	if switched {
		if c.haveSeq {
			c.seqOffset = c.lastSeq + 1 - seq
		} else {
			c.seqOffset = 0
		}
		if c.haveTS {
			delta := c.stride
			if !c.strideKnown {
				delta = 0
			}
			c.tsOffset = c.lastTS + delta - ts
		} else {
			c.tsOffset = 0
		}
		// A new source stream resets stride bootstrapping.
		c.strideKnown = false
		c.havePrevTS = false
	}

	newSeq = seq + c.seqOffset
	newTS = ts + c.tsOffset

	if c.havePrevTS && !c.strideKnown {
		c.stride = ts - c.prevTS
		c.strideKnown = true
	}
	c.prevTS = ts
	c.havePrevTS = true

	c.haveSeq = true
	c.lastSeq = newSeq
	c.haveTS = true
	c.lastTS = newTS

	return newSeq, newTS
}

// Reset clears all learned state, used when a session's media is torn
// down and later re-established.
func (c *SwitchContext) Reset() {
	*c = SwitchContext{}
}
