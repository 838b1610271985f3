package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_AudioChunk_Release_DropsDataAtZero(t *testing.T) {
	c := NewAudioChunk([]byte{1, 2, 3, 4}, 48000, 2)
	require.NotNil(t, c.Data)

	c.Release()
	require.Nil(t, c.Data)
}

func Test_AudioChunk_Retain_DelaysRelease(t *testing.T) {
	c := NewAudioChunk([]byte{1, 2, 3, 4}, 48000, 2)
	c.Retain()

	c.Release()
	require.NotNil(t, c.Data, "data must survive one release while a second reference is held")

	c.Release()
	require.Nil(t, c.Data)
}

func Test_VideoFrame_Free_IsIdempotent(t *testing.T) {
	f := &VideoFrame{}
	require.NotPanics(t, func() {
		f.Free()
		f.Free()
	})
}
