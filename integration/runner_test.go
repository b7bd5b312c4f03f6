//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/votesmart/undine/internal/config"
	"github.com/votesmart/undine/internal/models"
	"github.com/votesmart/undine/internal/services/borg"
	"github.com/votesmart/undine/internal/services/lock"
	"github.com/votesmart/undine/internal/services/mailer"
	"github.com/votesmart/undine/internal/services/runner"
	"github.com/votesmart/undine/internal/services/ssh"
	"github.com/votesmart/undine/internal/services/telegram"
	"github.com/votesmart/undine/internal/services/wol"
	"github.com/wneessen/go-mail"
)

type capturingSender struct {
	msgs []*mail.Msg
}

func (c *capturingSender) Send(_ context.Context, _ models.SMTPConfig, msg *mail.Msg) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func newRunner(sender mailer.Sender) *runner.Impl {
	logger := testLogger()
	return runner.NewWithServices(
		logger,
		lock.NewWithRetryDelay(logger, 10*time.Millisecond),
		borg.New(logger),
		mailer.NewWithSender(logger, sender),
		wol.New(logger),
		ssh.New(logger),
		telegram.New(logger),
	)
}

func loadConfig(t *testing.T, ini string, ov config.Overrides) *models.Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "undine.ini")
	require.NoError(t, os.WriteFile(path, []byte(ini), 0o600))

	cfg, err := config.NewParser().LoadFile(path, ov)
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func TestRun_FakeBorg_Integration(t *testing.T) {
	bin, argLog := fakeBorg(t)
	lockPath := filepath.Join(t.TempDir(), "undine.lock")

	cfg := loadConfig(t, `[default]
repos = ssh://host/repo
notify_email = ops@example.org
hostname = web01
borg = `+bin+`

[units]
db = /var/lib/db
web = /srv/fail
`, config.Overrides{LockFile: lockPath})

	sender := &capturingSender{}
	report, err := newRunner(sender).Run(context.Background(), *cfg)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"SUCCESS: ssh://host/repo::db",
		"FAIL: ssh://host/repo::web",
		"disk full",
	}, report.Lines())

	require.Len(t, sender.msgs, 1)
	msg := sender.msgs[0]
	assert.Equal(t, []string{"Backup Summary for web01"}, msg.GetGenHeader(mail.HeaderSubject))
	assert.Equal(t, "ops@example.org", msg.GetTo()[0].Address)
	body, err := msg.GetParts()[0].GetContent()
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS: ssh://host/repo::db\nFAIL: ssh://host/repo::web\ndisk full", string(body))

	logged, err := os.ReadFile(argLog)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(logged)), "\n"), 2)

	// The lock is free again.
	release, err := lock.New(testLogger()).Acquire(context.Background(), lockPath, time.Second)
	require.NoError(t, err)
	require.NoError(t, release())
}

func TestRun_FakeBorgDryRun_Integration(t *testing.T) {
	bin, argLog := fakeBorg(t)

	cfg := loadConfig(t, `[default]
borg = `+bin+`

[units]
db = /var/lib/db
`, config.Overrides{LockFile: filepath.Join(t.TempDir(), "undine.lock"), DryRun: true})

	sender := &capturingSender{}
	report, err := newRunner(sender).Run(context.Background(), *cfg)

	require.NoError(t, err)
	assert.Len(t, report.Results, 1)
	assert.Empty(t, sender.msgs)

	logged, err := os.ReadFile(argLog)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(logged), "create -n "))
}

func TestRun_LockHeldTimesOut_Integration(t *testing.T) {
	bin, argLog := fakeBorg(t)
	lockPath := filepath.Join(t.TempDir(), "undine.lock")

	release, err := lock.New(testLogger()).Acquire(context.Background(), lockPath, 0)
	require.NoError(t, err)
	defer func() { _ = release() }()

	cfg := loadConfig(t, `[default]
borg = `+bin+`
lock_timeout = 200ms

[units]
db = /var/lib/db
`, config.Overrides{LockFile: lockPath})

	sender := &capturingSender{}
	report, err := newRunner(sender).Run(context.Background(), *cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.Nil(t, report)
	assert.Empty(t, sender.msgs)
	assert.NoFileExists(t, argLog)
}
