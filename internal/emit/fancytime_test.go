package emit

import (
	"testing"
	"time"
)

func TestFancyTime(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{2 * time.Hour, "2h 0m 0s"},
		{25 * time.Hour, "1d 1h 0m 0s"},
	}
	for _, c := range cases {
		if got := FancyTime(c.d); got != c.want {
			t.Errorf("FancyTime(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
