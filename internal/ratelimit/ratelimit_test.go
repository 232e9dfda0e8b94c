package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllow_AdmitsUpToTicksMax(t *testing.T) {
	l := New(10, 2, time.Hour)

	for i := 0; i < 11; i++ {
		ok := l.Allow("192.0.2.1")
		if i < 10 {
			require.Truef(t, ok, "request %d should be admitted", i)
		} else {
			require.Falsef(t, ok, "11th burst request should be refused")
		}
	}
}

func TestAllow_DecaysOverTime(t *testing.T) {
	l := New(1, 100, time.Hour)

	require.True(t, l.Allow("192.0.2.2"))
	l.buckets["192.0.2.2"].lastSeen = time.Now().Add(-time.Second)

	require.True(t, l.Allow("192.0.2.2"))
}

func TestAllow_PrunesStaleBuckets(t *testing.T) {
	l := New(10, 2, time.Millisecond)

	l.Allow("192.0.2.3")
	require.Equal(t, 1, l.Count())

	time.Sleep(5 * time.Millisecond)
	l.Allow("192.0.2.4")

	require.Equal(t, 1, l.Count())
}
