package infra

import (
	"strings"
	"testing"
)

func TestDatabaseDSN(t *testing.T) {
	d := Database{Name: "court", User: "arbiter", Password: "p@ss:w/rd", Host: "::1", Port: 6543}
	got := d.DSN()
	want := "postgres://arbiter:p%40ss%3Aw%2Frd@[::1]:6543/court?sslmode=disable"
	if got != want {
		t.Fatalf("dsn:\n got %s\nwant %s", got, want)
	}
}

func TestAdminDSNs(t *testing.T) {
	t.Setenv("USER", "dev")
	t.Setenv(envAdminDSN, "")
	dsns := DefaultDatabase.adminDSNs()
	if len(dsns) != 4 {
		t.Fatalf("expected 4 candidates, got %v", dsns)
	}
	for _, dsn := range dsns {
		if !strings.HasSuffix(dsn, "@127.0.0.1:5432/postgres?sslmode=disable") {
			t.Fatalf("candidate %s does not target the maintenance database", dsn)
		}
	}

	t.Setenv(envAdminDSN, "postgres://root@db:5432/postgres")
	if dsns := DefaultDatabase.adminDSNs(); len(dsns) != 1 || dsns[0] != "postgres://root@db:5432/postgres" {
		t.Fatalf("override ignored: %v", dsns)
	}
}
