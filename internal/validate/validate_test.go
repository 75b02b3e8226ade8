package validate

import "testing"

func TestSessionID(t *testing.T) {
	t.Parallel()

	valid := []string{"main", "user-42", "a.b_c", "0session"}
	for _, s := range valid {
		if !SessionID(s) {
			t.Errorf("SessionID(%q) = false", s)
		}
	}

	invalid := []string{"", "-lead", ".lead", "has space", "slash/id"}
	for _, s := range invalid {
		if SessionID(s) {
			t.Errorf("SessionID(%q) = true", s)
		}
	}
}

func TestUID(t *testing.T) {
	t.Parallel()

	if !UID("123456789") {
		t.Error("UID(123456789) = false")
	}
	for _, s := range []string{"", "12a", "-1", "1 2"} {
		if UID(s) {
			t.Errorf("UID(%q) = true", s)
		}
	}
}

func TestHTTPURL(t *testing.T) {
	t.Parallel()

	if err := HTTPURL("https://api.example.com/token"); err != nil {
		t.Errorf("https url rejected: %v", err)
	}
	if err := HTTPURL("http://api.example.com"); err != nil {
		t.Errorf("http url rejected: %v", err)
	}

	for _, raw := range []string{"file:///etc/passwd", "ftp://host/x", "api.example.com", "https://"} {
		if err := HTTPURL(raw); err == nil {
			t.Errorf("HTTPURL(%q) accepted", raw)
		}
	}
}

func TestGitHubRepo(t *testing.T) {
	t.Parallel()

	if !GitHubRepo("acme/tokens") {
		t.Error("GitHubRepo(acme/tokens) = false")
	}
	for _, s := range []string{"acme", "acme/", "/tokens", "a/b/c"} {
		if GitHubRepo(s) {
			t.Errorf("GitHubRepo(%q) = true", s)
		}
	}
}
