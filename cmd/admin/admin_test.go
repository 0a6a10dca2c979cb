package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useMemoryStore points openStore at rm for the duration of the test.
func useMemoryStore(t *testing.T, rm repomanager.RepositoryManager) *[]repomanager.Options {
	t.Helper()
	var seen []repomanager.Options

	orig := openStore
	openStore = func(ctx context.Context, opts repomanager.Options) (repomanager.RepositoryManager, error) {
		seen = append(seen, opts)
		return rm, nil
	}
	t.Cleanup(func() { openStore = orig })
	return &seen
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCreateAdmin_PasswordStdin(t *testing.T) {
	rm := repomanager.NewMemoryRepositoryManager()
	seen := useMemoryStore(t, rm)

	out, err := execute(t, "correct horse\n", "create-admin", "--store", "memory", "--email", "Root@Example.com", "--password-stdin")
	require.NoError(t, err)
	assert.Contains(t, out, "Created admin root@example.com")

	require.Len(t, *seen, 1)
	assert.Equal(t, "memory", (*seen)[0].Backend)

	a, err := rm.Accounts().FindByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, a.Role)
	assert.True(t, a.IsVerified())
}

func TestCreateAdmin_TerminalPrompt(t *testing.T) {
	rm := repomanager.NewMemoryRepositoryManager()
	useMemoryStore(t, rm)

	orig := readPassword
	readPassword = func(int) ([]byte, error) { return []byte("correct horse"), nil }
	t.Cleanup(func() { readPassword = orig })

	out, err := execute(t, "", "create-admin", "--store", "memory", "--email", "a@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Enter password:")

	_, err = rm.Accounts().FindByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
}

func TestCreateAdmin_Errors(t *testing.T) {
	rm := repomanager.NewMemoryRepositoryManager()
	useMemoryStore(t, rm)

	t.Run("short password", func(t *testing.T) {
		_, err := execute(t, "short\n", "create-admin", "--store", "memory", "--email", "a@example.com", "--password-stdin")
		require.Error(t, err)
	})

	t.Run("missing email flag", func(t *testing.T) {
		_, err := execute(t, "", "create-admin", "--store", "memory")
		require.Error(t, err)
	})

	t.Run("read failure", func(t *testing.T) {
		orig := readPassword
		readPassword = func(int) ([]byte, error) { return nil, errors.New("no tty") }
		t.Cleanup(func() { readPassword = orig })

		_, err := execute(t, "", "create-admin", "--store", "memory", "--email", "a@example.com")
		require.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := execute(t, "", "create-admin", "--store", "cassandra", "--email", "a@example.com", "--password-stdin")
		require.Error(t, err)
	})
}

type failingMigrations struct {
	*repomanager.MemoryRepositoryManager
}

func (failingMigrations) RunMigrations(context.Context) error { return errors.New("boom") }

func TestMigrate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		useMemoryStore(t, repomanager.NewMemoryRepositoryManager())

		out, err := execute(t, "", "migrate", "--store", "memory")
		require.NoError(t, err)
		assert.Contains(t, out, "Migrations complete")
	})

	t.Run("failure", func(t *testing.T) {
		useMemoryStore(t, failingMigrations{repomanager.NewMemoryRepositoryManager()})

		_, err := execute(t, "", "migrate", "--store", "memory")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}
