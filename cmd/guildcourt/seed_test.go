package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"guildcourt/auth"
	"guildcourt/dispute"
	"guildcourt/milestone"
)

const seedYAML = `
guilds:
  - name: Arbiters
    owner: GOWNER
    members:
      - {address: GADMIN, role: admin}
      - {address: GMEMBER, role: member}
mints:
  - {token: XLM, account: GOWNER, amount: 5000}
bounties:
  - guild: Arbiters
    creator: GOWNER
    title: Ship the indexer
    token: XLM
    reward: 1000
    expires_in: 720h
    funded_by: GOWNER
projects:
  - guild: Arbiters
    creator: GOWNER
    contributor: GHUNTER
    treasury_id: 1
    token: XLM
    funded_by: GOWNER
    milestones:
      - {title: design, amount: 300, due_in: 720h}
      - {title: build, amount: 700, due_in: 1440h}
`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestSeed_CreatesDisputableRecords(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, memoryConfig(), discardLogger())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.close()

	s, err := loadSeedFile(writeSeed(t, seedYAML))
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	report, err := a.seed(ctx, s)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if report.Guilds["Arbiters"] != 1 || len(report.Bounties) != 1 || len(report.Projects) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := report.Projects[0].Milestones; len(got) != 2 {
		t.Fatalf("expected two milestones, got %v", got)
	}

	owner, err := a.escrow.Balance(ctx, "XLM", "GOWNER")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if owner != 3000 {
		t.Fatalf("expected 3000 left after funding, got %d", owner)
	}

	// Bounty 1 and milestone 1 share an id; milestone 2 is unambiguous.
	disputed := report.Projects[0].Milestones[1]
	id, err := a.disputes.Create(auth.WithCaller(ctx, "GHUNTER"), dispute.CreateParams{
		ReferenceID: disputed,
		Plaintiff:   "GHUNTER",
		Defendant:   "GOWNER",
		Reason:      "build phase rejected without review",
		EvidenceURL: "https://evidence.example/build",
	})
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected dispute 1, got %d", id)
	}

	err = a.milestones.Expire(ctx, disputed)
	if !errors.Is(err, milestone.ErrUnderDispute) {
		t.Fatalf("expected milestone to be frozen by the dispute, got %v", err)
	}
}

func TestSeed_UnknownGuild(t *testing.T) {
	a, err := newApp(context.Background(), memoryConfig(), discardLogger())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.close()

	s, err := loadSeedFile(writeSeed(t, `
bounties:
  - {guild: Nowhere, creator: GOWNER, title: t, token: XLM, reward: 1, expires_in: 1h}
`))
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if _, err := a.seed(context.Background(), s); err == nil || !strings.Contains(err.Error(), `unknown guild "Nowhere"`) {
		t.Fatalf("expected unknown guild error, got %v", err)
	}
}

func TestSeedCommand_RequiresPostgres(t *testing.T) {
	t.Setenv("GUILDCOURT_STORE", "memory")
	t.Setenv("GUILDCOURT_JWT_SECRET", "s3cret")

	var out, errOut bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"seed", writeSeed(t, seedYAML)})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "run --seed") {
		t.Fatalf("expected memory store to be rejected, got %v", err)
	}
}

func TestLoadSeedFile_RejectsBadYAML(t *testing.T) {
	if _, err := loadSeedFile(writeSeed(t, "guilds: [")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := loadSeedFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}
