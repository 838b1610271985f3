package mux

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/e1z0/rtsp-pusher/internal/media"
)

func fillQueue(q *media.Queue[*media.Packet], n int, keyframeEvery int) {
	for i := 0; i < n; i++ {
		p := &media.Packet{Keyframe: keyframeEvery > 0 && i%keyframeEvery == 0}
		q.Push(p)
	}
}

func Test_EnqueueVideoPacket_BelowCapacityAlwaysAdmits(t *testing.T) {
	q := media.NewQueue[*media.Packet](VideoQueueCapacity, media.DropOldest)
	fillQueue(q, VideoQueueCapacity-1, 10)

	EnqueueVideoPacket(q, &media.Packet{})
	require.Equal(t, VideoQueueCapacity, q.Len())
}

func Test_EnqueueVideoPacket_AtCapacityEvictsOldestNonKeyframe(t *testing.T) {
	q := media.NewQueue[*media.Packet](VideoQueueCapacity, media.DropOldest)
	fillQueue(q, VideoQueueCapacity, 10) // every 10th packet, starting with the first, is a keyframe

	EnqueueVideoPacket(q, &media.Packet{})
	require.Equal(t, VideoQueueCapacity, q.Len(), "queue depth should be unchanged after evict+admit")

	first, ok := q.Peek()
	require.True(t, ok)
	require.True(t, first.Keyframe, "the keyframe at the head must never be evicted")
}

func Test_EnqueueVideoPacket_AllKeyframesDropsIncoming(t *testing.T) {
	q := media.NewQueue[*media.Packet](VideoQueueCapacity, media.DropOldest)
	fillQueue(q, VideoQueueCapacity, 1) // every packet is a keyframe

	incoming := &media.Packet{}
	EnqueueVideoPacket(q, incoming)

	require.Equal(t, VideoQueueCapacity, q.Len())
	for i := 0; i < VideoQueueCapacity; i++ {
		p, ok := q.TryPop()
		require.True(t, ok)
		require.True(t, p.Keyframe)
	}
}

func Test_EnqueueAudioPacket_NeverDrops(t *testing.T) {
	q := media.NewQueue[*media.Packet](0, media.DropOldest)
	for i := 0; i < AudioQueueSoftCap*3; i++ {
		EnqueueAudioPacket(q, &media.Packet{})
	}
	require.Equal(t, AudioQueueSoftCap*3, q.Len())
	require.Equal(t, int64(0), q.Dropped())
}
