package harmonizer

import "testing"

func TestSanitizeFilename(t *testing.T) {
	cases := []struct{ in, want string }{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"C:\\Windows\\System32\\evil.exe", "evil.exe"},
		{"http://evil.example/payload.pdf", "payload.pdf"},
		{"weird name!!.pdf", "weird name_.pdf"},
		{"a__b...c.pdf", "a_b.c.pdf"},
		{"file\x00name.pdf", "filename.pdf"},
	}
	for _, c := range cases {
		got := SanitizeFilename(c.in)
		if got != c.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeFilenameCapsLengthPreservingExtension(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "a"
	}
	got := SanitizeFilename(long + ".pdf")
	if len(got) > maxFilenameLength {
		t.Fatalf("sanitized filename length = %d, want <= %d", len(got), maxFilenameLength)
	}
	if got[len(got)-4:] != ".pdf" {
		t.Fatalf("expected extension preserved, got %q", got)
	}
}

func TestSanitizeFilenameDoubleURLDecodes(t *testing.T) {
	// %252e%252e%252f -> %2e%2e%2f after one decode pass -> ../ after the
	// second, so the basename step leaves only "passwd"
	got := SanitizeFilename("%252e%252e%252fpasswd")
	if got != "passwd" {
		t.Fatalf("SanitizeFilename = %q, want %q", got, "passwd")
	}
}
