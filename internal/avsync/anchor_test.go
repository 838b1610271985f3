package avsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Anchor_Ready_FalseUntilBothSet(t *testing.T) {
	a := NewAnchor()
	require.False(t, a.Ready())

	a.SetVideoPTS(0)
	require.False(t, a.Ready())

	a.SetAudioPTS(0)
	require.True(t, a.Ready())
}

func Test_Anchor_Ready_TrueAfterWarmUpTimeout(t *testing.T) {
	a := NewAnchor()
	a.SetVideoPTS(0) // only one modality ever arrives

	restore := stubNow(func() time.Time { return a.start.Add(2 * WarmUpTimeout) })
	defer restore()

	require.True(t, a.Ready())
	require.False(t, a.Synchronized(), "warm-up timeout must not count as a real sync")
}

func Test_Anchor_Evaluate_InWindowEncodes(t *testing.T) {
	a := NewAnchor()
	a.SetSampleRate(48000)
	a.SetVideoPTS(0)
	a.SetAudioPTS(0)

	action, _ := a.Evaluate(0, 30)
	require.Equal(t, ActionEncode, action)
}

func Test_Anchor_Evaluate_AheadWaits(t *testing.T) {
	a := NewAnchor()
	a.SetSampleRate(48000)
	a.SetVideoPTS(0)
	a.SetAudioPTS(0)

	// 5 frames @ 30fps = ~166ms ahead, inside the 1s ceiling but outside
	// the 25ms sync window.
	action, wait := a.Evaluate(5, 30)
	require.Equal(t, ActionWait, action)
	require.Equal(t, maxWait, wait, "wait should be clamped to maxWait")
}

func Test_Anchor_Evaluate_FarAheadDrops(t *testing.T) {
	a := NewAnchor()
	a.SetSampleRate(48000)
	a.SetVideoPTS(0)
	a.SetAudioPTS(0)

	// 60 frames @ 30fps = 2s ahead, beyond the 1s ceiling.
	action, _ := a.Evaluate(60, 30)
	require.Equal(t, ActionDrop, action)
}

func Test_Anchor_Evaluate_BehindDrops(t *testing.T) {
	a := NewAnchor()
	a.SetSampleRate(48000)
	a.SetVideoPTS(0)
	a.SetAudioPTS(0)     // latch the anchor at audio sample 0
	a.SetAudioPTS(48000) // audio has since advanced a full second

	action, _ := a.Evaluate(0, 30) // video hasn't moved since its anchor
	require.Equal(t, ActionDrop, action)
}

func Test_Anchor_Evaluate_BeforeBothAnchorsEncodesUnconditionally(t *testing.T) {
	a := NewAnchor()
	a.SetVideoPTS(0) // audio never arrives

	action, _ := a.Evaluate(1000, 30)
	require.Equal(t, ActionEncode, action)
}

func Test_Anchor_SetAudioPTS_WakesWait(t *testing.T) {
	a := NewAnchor()
	done := make(chan struct{})
	go func() {
		a.Wait(time.Hour)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	a.SetAudioPTS(123)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake on SetAudioPTS")
	}
}

// stubNow swaps the package-level now seam for the duration of a test and
// returns a restore func. Guarded by a mutex since avsync has no other
// global state that would race with it across parallel tests.
var nowMu sync.Mutex

func stubNow(f func() time.Time) func() {
	nowMu.Lock()
	prev := nowFunc
	nowFunc = f
	return func() {
		nowFunc = prev
		nowMu.Unlock()
	}
}
