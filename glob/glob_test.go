package glob

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pat, str string
		want     bool
	}{
		// literals
		{"example.com", "example.com", true},
		{"example.com", "example.co", false},
		{"example.com", "Example.com", false},
		{"", "", true},
		{"", "a", false},

		// '*'
		{"*", "", true},
		{"*", "anything.at.all", true},
		{"*.example.com", "api.example.com", true},
		{"*.example.com", "a.b.example.com", true},
		{"*.example.com", "example.com", false},
		{"*example.com", "example.com", true},
		{"api.*", "api.example.com", true},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "axxbyy", false},
		{"*.*.com", "x.y.com", true},
		{"*com", "com.org", false},

		// '?'
		{"?", "a", true},
		{"?", "", false},
		{"a?c", "abc", true},
		{"a?c", "ac", false},

		// classes
		{"[abc].com", "b.com", true},
		{"[abc].com", "d.com", false},
		{"[a-c]x", "bx", true},
		{"[a-c]x", "dx", false},
		{"[!a-c]x", "dx", true},
		{"[!a-c]x", "bx", false},
		{"[]]", "]", true},
		{"[!]]", "]", false},
		{"[a-]", "-", true},
		{"[!a]", "", false},
		{"x[0-9][0-9]", "x42", true},

		// malformed class is literal
		{"[abc", "[abc", true},
		{"[abc", "a", false},
		{"[a-", "[a-", true},

		// escapes
		{`\*.com`, "*.com", true},
		{`\*.com`, "x.com", false},
		{`a\?`, "a?", true},
	}
	for _, tc := range tests {
		if got := Match(tc.pat, tc.str); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pat, tc.str, got, tc.want)
		}
	}
}

func TestMatch_NULTerminates(t *testing.T) {
	if !Match("evil", "evil\x00.example.com") {
		t.Fatalf("text must end at its first NUL")
	}
	if Match("*.example.com", "evil\x00.example.com") {
		t.Fatalf("bytes after NUL must not be matched")
	}
	if !Match("abc\x00def", "abc") {
		t.Fatalf("pattern must end at its first NUL")
	}
}

func TestMatch_Bytes(t *testing.T) {
	if !Match("*.example.com", []byte("api.example.com")) {
		t.Fatalf("[]byte text should match like string text")
	}
}

func FuzzMatch(f *testing.F) {
	f.Add("*.example.com", "api.example.com")
	f.Add("[!a-z]*", "0day")
	f.Add(`\`, "")

	f.Fuzz(func(t *testing.T, pat, str string) {
		if Match(pat, str) != Match(pat, []byte(str)) {
			t.Fatalf("string and []byte disagree for %q %q", pat, str)
		}
	})
}
