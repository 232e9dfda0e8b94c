package gamemode

import "testing"

func TestDecode(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{1, "battle"},
		{3, "ctf"},
		{16, "headhunters"},
		{0, "unknown"},
		{99, "unknown"},
	}
	for _, c := range cases {
		if got := Decode(c.code); got != c.want {
			t.Errorf("Decode(%d) = %q, want %q", c.code, got, c.want)
		}
	}
}
