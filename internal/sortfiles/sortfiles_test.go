package sortfiles

import "testing"

func TestLessOrdersDigitRunsNumerically(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"track2.mp3", "track10.mp3", true},
		{"track10.mp3", "track2.mp3", false},
		{"a.mp3", "b.mp3", true},
		{"track01.mp3", "track1.mp3", false}, // equal numeric value: "01" and "1" compare equal, so neither is less
		{"intro.mp3", "track1.mp3", true},
	}
	for _, c := range cases {
		if got := Less(c.a, c.b); got != c.want {
			t.Errorf("Less(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestIsSupported(t *testing.T) {
	for _, name := range []string{"a.mp3", "b.WAV", "c.opus", "d.Ogg"} {
		if !IsSupported(name) {
			t.Errorf("IsSupported(%q) = false, want true", name)
		}
	}
	if IsSupported("readme.txt") {
		t.Errorf("IsSupported(readme.txt) = true, want false")
	}
}
