package services

import "testing"

func TestNormalizeText(t *testing.T) {
	cases := map[string]string{
		"Hello World":                          "Hello World",
		"  line one  \r\nline two\r\n\r\n\r\n": "line one\nline two",
		"[Page 1]\nA\n\n\n\n[Page 2]\nB":       "[Page 1]\nA\n\n[Page 2]\nB",
		"a\x00b \t\nc":                         "ab\nc",
	}
	for in, want := range cases {
		if got := NormalizeText(in); got != want {
			t.Errorf("NormalizeText(%q) = %q, want %q", in, got, want)
		}
	}
}
