package main

import (
	"strings"
	"testing"

	"github.com/dvloznov/taxledger/internal/store/postgres"
)

func TestDescribe(t *testing.T) {
	got := describe([]postgres.Migration{
		{Version: 1, Name: "statements", Checksum: "3f2a9c1b0d4e"},
		{Version: 12, Name: "short", Checksum: "abc"},
	})
	want := []string{
		"0001_statements  sha256:3f2a9c1b",
		"0012_short  sha256:abc",
	}
	if len(got) != len(want) {
		t.Fatalf("describe() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDescribe_EmbeddedMigrations(t *testing.T) {
	migrations, err := postgres.ReadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	lines := describe(migrations)
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "0001_") {
		t.Errorf("describe() = %v, want embedded migrations in version order", lines)
	}
}
