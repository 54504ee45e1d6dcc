package nosip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLocalInstallsOutboundContext(t *testing.T) {
	session := &Session{}
	mgr := SRTPManager{}

	cryptoB64, err := mgr.SetLocal(session, KindAudio)
	require.NoError(t, err)
	assert.NotEmpty(t, cryptoB64)

	ks := session.Media.Kinds[KindAudio]
	assert.NotNil(t, ks.SRTPOut)
	assert.Equal(t, 80, ks.SRTPSuiteOut)
	assert.True(t, session.Media.HasSRTPLocal)
}

func TestSetRemoteRejectsShortKeyMaterial(t *testing.T) {
	session := &Session{}
	mgr := SRTPManager{}

	err := mgr.SetRemote(session, KindAudio, "AAAA", 80)
	assert.Error(t, err)
	assert.False(t, session.Media.HasSRTPRemote)
}

func TestSetRemoteRejectsUnsupportedSuite(t *testing.T) {
	session := &Session{}
	mgr := SRTPManager{}

	err := mgr.SetRemote(session, KindAudio, thirtyZeroBytesB64, 40)
	assert.Error(t, err)
}

func TestSetRemoteInstallsInboundContext(t *testing.T) {
	session := &Session{}
	mgr := SRTPManager{}

	err := mgr.SetRemote(session, KindVideo, thirtyZeroBytesB64, 32)
	require.NoError(t, err)

	ks := session.Media.Kinds[KindVideo]
	assert.NotNil(t, ks.SRTPIn)
	assert.Equal(t, 32, ks.SRTPSuiteIn)
	assert.True(t, session.Media.HasSRTPRemote)
}

func TestCleanupResetsAllKinds(t *testing.T) {
	session := &Session{}
	mgr := SRTPManager{}

	_, err := mgr.SetLocal(session, KindAudio)
	require.NoError(t, err)
	require.NoError(t, mgr.SetRemote(session, KindVideo, thirtyZeroBytesB64, 80))
	session.Media.RequireSRTP = true

	mgr.Cleanup(session)

	for k := KindAudio; k < numKinds; k++ {
		ks := session.Media.Kinds[k]
		assert.Nil(t, ks.SRTPIn)
		assert.Nil(t, ks.SRTPOut)
	}
	assert.False(t, session.Media.RequireSRTP)
	assert.False(t, session.Media.HasSRTPLocal)
	assert.False(t, session.Media.HasSRTPRemote)
}
