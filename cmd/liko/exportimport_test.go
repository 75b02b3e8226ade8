package main

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestSessionExportRoundtrip(t *testing.T) {
	t.Parallel()

	export := sessionExport{
		SessionID:      "main",
		JWTAPI:         "https://tokens.example.com/token",
		LikeAPI:        "https://likes.example.com/like",
		GitHubRepo:     "acme/tokens",
		GitHubFilePath: "data/tokens.json",
		NotifyChat:     "12345",
		Accounts: []accountExport{
			{UID: "111", Password: "aaa"},
			{UID: "222", Password: "bbb"},
		},
		Targets: []string{"100", "200"},
	}

	data, err := yaml.Marshal(export)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var parsed sessionExport
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.SessionID != "main" || len(parsed.Accounts) != 2 || len(parsed.Targets) != 2 {
		t.Fatalf("parsed = %+v", parsed)
	}
	if parsed.Accounts[0] != export.Accounts[0] {
		t.Fatalf("account = %+v", parsed.Accounts[0])
	}
}

func TestSecretScopePlaceholder(t *testing.T) {
	t.Parallel()

	if got := secretScope("-"); got != "" {
		t.Fatalf("secretScope(-) = %q", got)
	}
	if got := secretScope("main"); got != "main" {
		t.Fatalf("secretScope(main) = %q", got)
	}
}
