package registry

import "testing"

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"strips forbidden chars", "my#server%[cool]", "myservercool"},
		{"collapses whitespace", "a    b   c", "a b c"},
		{"trims", "  padded  ", "padded"},
		{"strips control bytes", "hi\x01\x02there", "hithere"},
		{"strips above 0x7D", "tilde~ok", "tildeok"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := SanitizeName(c.in); got != c.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}
