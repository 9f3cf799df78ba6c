package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	envTestDSN  = "GUILDCOURT_TEST_PG_DSN"
	envAdminDSN = "GUILDCOURT_TEST_PG_ADMIN_DSN"
	pgImage     = "postgres:16"
)

// Database names the test database and the role that owns it. The container
// and the local server are provisioned from the same values.
type Database struct {
	Name     string
	User     string
	Password string
	Host     string
	Port     int
}

// DefaultDatabase is the kv_entries store the integration and stress tests
// run against.
var DefaultDatabase = Database{
	Name:     "guildcourt_test",
	User:     "guildcourt",
	Password: "guildcourt",
	Host:     "127.0.0.1",
	Port:     5432,
}

// DSN is the connection string for the owning role.
func (d Database) DSN() string {
	return d.dsnFor(url.UserPassword(d.User, d.Password), d.Name)
}

func (d Database) dsnFor(user *url.Userinfo, dbname string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     user,
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + dbname,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// adminDSNs lists superuser connections tried when provisioning on a local
// server.
func (d Database) adminDSNs() []string {
	if dsn := os.Getenv(envAdminDSN); dsn != "" {
		return []string{dsn}
	}
	users := []*url.Userinfo{url.User("postgres"), url.UserPassword("postgres", "postgres")}
	if me := os.Getenv("USER"); me != "" && me != "postgres" {
		users = append(users, url.User(me), url.UserPassword(me, "postgres"))
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, d.dsnFor(u, "postgres"))
	}
	return out
}

// Harness owns the lifecycle of the Postgres test database and pgx pool.
type Harness struct {
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	teardown  func(context.Context) error
	dsn       string
}

// NewHarness picks a database in this order: overrideDSN, GUILDCOURT_TEST_PG_DSN,
// a Postgres 16 container when Docker is reachable, then a local server
// provisioned through GUILDCOURT_TEST_PG_ADMIN_DSN or a default superuser.
// Shared databases get an isolated schema that is dropped on Close.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	h := &Harness{}
	shared := false

	switch {
	case overrideDSN != "":
		h.dsn, shared = overrideDSN, true
	case os.Getenv(envTestDSN) != "":
		h.dsn, shared = os.Getenv(envTestDSN), true
	case DockerAvailable(ctx):
		c, dsn, err := startContainer(ctx, DefaultDatabase)
		if err != nil {
			return nil, fmt.Errorf("start postgres container: %w", err)
		}
		h.container, h.dsn = c, dsn
	default:
		dsn, err := provisionLocal(ctx, DefaultDatabase)
		if err != nil {
			return nil, fmt.Errorf("provision local database: %w", err)
		}
		h.dsn = dsn
	}

	pool, teardown, err := ApplyMigrations(ctx, h.dsn, shared)
	if err != nil {
		h.terminate(ctx)
		return nil, err
	}
	h.pool, h.teardown = pool, teardown
	return h, nil
}

func startContainer(ctx context.Context, d Database) (*postgres.PostgresContainer, string, error) {
	c, err := postgres.Run(ctx, pgImage,
		postgres.WithDatabase(d.Name),
		postgres.WithUsername(d.User),
		postgres.WithPassword(d.Password),
	)
	if err != nil {
		return nil, "", err
	}
	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, "", err
	}
	return c, dsn, nil
}

// provisionLocal recreates d on a local server, owned by d.User.
func provisionLocal(ctx context.Context, d Database) (string, error) {
	var (
		admin *pgx.Conn
		errs  []error
	)
	for _, dsn := range d.adminDSNs() {
		conn, err := pgx.Connect(ctx, dsn)
		if err == nil {
			admin = conn
			break
		}
		errs = append(errs, err)
	}
	if admin == nil {
		return "", fmt.Errorf("no superuser connection to %s:%d: %w", d.Host, d.Port, errors.Join(errs...))
	}
	defer admin.Close(ctx)

	role := pgx.Identifier{d.User}.Sanitize()
	dbname := pgx.Identifier{d.Name}.Sanitize()
	password := "'" + strings.ReplaceAll(d.Password, "'", "''") + "'"

	stmts := []string{
		fmt.Sprintf("DO $$ BEGIN CREATE ROLE %s LOGIN PASSWORD %s; EXCEPTION WHEN duplicate_object THEN NULL; END $$", role, password),
		fmt.Sprintf("SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid()", strings.ReplaceAll(d.Name, "'", "''")),
		fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbname),
		fmt.Sprintf("CREATE DATABASE %s OWNER %s", dbname, role),
	}
	for _, stmt := range stmts {
		if _, err := admin.Exec(ctx, stmt); err != nil {
			return "", fmt.Errorf("provision %s: %w", d.Name, err)
		}
	}
	return d.DSN(), nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections.
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
	h.terminate(ctx)
}

func (h *Harness) terminate(ctx context.Context) {
	if h.container != nil {
		_ = h.container.Terminate(ctx)
	}
}

// Reset truncates the store table to provide a clean slate between tests.
func (h *Harness) Reset(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, "TRUNCATE TABLE kv_entries"); err != nil {
		return fmt.Errorf("truncate kv_entries: %w", err)
	}
	return nil
}

// DockerAvailable reports whether a docker daemon answers `docker info`.
func DockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
