package session

import "testing"

func TestNormalizeNewlines(t *testing.T) {
	cases := map[string]string{
		"a\r\nb":     "a\nb",
		"a\nb":       "a\nb",
		"a\rb":       "a\rb",
		"a\r\n\r\nb": "a\n\nb",
	}
	for in, want := range cases {
		if got := NormalizeNewlines(in); got != want {
			t.Errorf("NormalizeNewlines(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSessionFileTable(t *testing.T) {
	s := New("conn-1")
	if _, ok := s.File("file:///a.lua"); ok {
		t.Fatal("expected no file before UpdateFile")
	}

	s.UpdateFile("file:///a.lua", "print(1)\r\n")
	text, ok := s.File("file:///a.lua")
	if !ok || text != "print(1)\n" {
		t.Errorf("File = %q, %v, want %q, true", text, ok, "print(1)\n")
	}

	s.UpdateFile("file:///a.lua", "print(2)\n")
	text, _ = s.File("file:///a.lua")
	if text != "print(2)\n" {
		t.Errorf("File after overwrite = %q", text)
	}
}

func TestSessionLifecycleState(t *testing.T) {
	s := New("conn-2")
	if s.State() != PreInit {
		t.Fatalf("initial state = %v, want PreInit", s.State())
	}
	s.SetState(Initialized)
	if s.State() != Initialized {
		t.Fatalf("state after SetState = %v, want Initialized", s.State())
	}
}

func TestSessionPullDiagnosticsCapability(t *testing.T) {
	s := New("conn-3")
	if s.SupportsPullDiagnostics() {
		t.Fatal("expected false by default")
	}
	s.SetSupportsPullDiagnostics(true)
	if !s.SupportsPullDiagnostics() {
		t.Fatal("expected true after SetSupportsPullDiagnostics(true)")
	}
}
