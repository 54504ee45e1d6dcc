package nosip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSwitchContextPassthroughWithoutSwitch(t *testing.T) {
	var c SwitchContext

	seq, ts := c.Update(1234, 100, 8000)
	assert.Equal(t, uint16(100), seq)
	assert.Equal(t, uint32(8000), ts)

	seq, ts = c.Update(1234, 101, 8160)
	assert.Equal(t, uint16(101), seq)
	assert.Equal(t, uint32(8160), ts)
}

func TestSwitchContextRemapsSeqOnSSRCChange(t *testing.T) {
	var c SwitchContext

	c.Update(1111, 100, 8000)
	c.Update(1111, 101, 8160)

	seq, _ := c.Update(2222, 0, 0)
	assert.Equal(t, uint16(102), seq, "sequence numbers must stay monotonic across an SSRC switch")

	seq, _ = c.Update(2222, 1, 160)
	assert.Equal(t, uint16(103), seq)
}

func TestSwitchContextBootstrapsStrideForTimestamp(t *testing.T) {
	var c SwitchContext

	c.Update(1111, 0, 1000)
	_, ts := c.Update(1111, 1, 1160)
	assert.Equal(t, uint32(1160), ts)

	// Switch mid-stream: the new stream's timestamp should be offset so
	// the timeline continues at the bootstrapped stride (160).
	_, ts = c.Update(2222, 0, 50)
	assert.Equal(t, uint32(1320), ts)
}

func TestSwitchContextReset(t *testing.T) {
	var c SwitchContext
	c.Update(1111, 5, 500)
	c.Reset()

	seq, ts := c.Update(9999, 0, 0)
	assert.Equal(t, uint16(0), seq)
	assert.Equal(t, uint32(0), ts)
}
