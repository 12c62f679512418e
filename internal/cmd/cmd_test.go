package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkscanner/linkscanner/internal/appid"
	"github.com/linkscanner/linkscanner/internal/config"
	"github.com/linkscanner/linkscanner/internal/core"
	"github.com/linkscanner/linkscanner/internal/core/upstream"
	errwrap "github.com/linkscanner/linkscanner/internal/errors"
	"github.com/linkscanner/linkscanner/internal/output"
)

func TestAppIdentityLoading(t *testing.T) {
	identity, err := appid.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, identity)

	assert.Equal(t, "linkscanner", identity.BinaryName)
	assert.NotEmpty(t, identity.Vendor)
	assert.NotEmpty(t, identity.ConfigName)
	assert.True(t, strings.HasSuffix(identity.EnvPrefix, "_"), identity.EnvPrefix)
	assert.Equal(t, "linkscanner", rootCmd.Use)
}

func TestExitCodeFor(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(errors.New("boom")))
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(errwrap.WrapConfigInvalid(ctx, errors.New("bad"), "configuration invalid")))
	assert.Equal(t, foundry.ExitFileNotFound, ExitCodeFor(errwrap.WrapStorage(ctx, errors.New("disk"), "counter store unavailable")))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCodeFor(errwrap.NewExternalServiceError("upstream down")))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCodeFor(errwrap.WrapTimeout(ctx, context.DeadlineExceeded, "scan timed out waiting for the upstream")))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(errwrap.NewInternalError("server error")))
}

func TestDescribeFailure(t *testing.T) {
	assert.Equal(t, "FATAL: startup", describeFailure("startup", nil))
	assert.Equal(t, "FATAL: startup: boom", describeFailure("startup", errors.New("boom")))

	envelope := errwrap.WrapStorage(context.Background(), errors.New("read-only file system"), "counter store unavailable")
	line := describeFailure("Command execution failed", envelope)
	assert.Contains(t, line, "[STORAGE_ERROR]")
	assert.Contains(t, line, "read-only file system")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "scan.example.com-login-a-1", sanitizeFilename("scan.https://Example.com/login?a=1"))
	assert.Equal(t, "output", sanitizeFilename("  ///  "))
}

func TestServeOverridesOnlyChangedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "serve"}
	cmd.Flags().StringVar(&serverHost, "host", "localhost", "")
	cmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "")

	assert.Nil(t, serveOverrides(cmd))

	require.NoError(t, cmd.Flags().Set("port", "9001"))
	overrides := serveOverrides(cmd)
	require.NotNil(t, overrides)
	assert.Equal(t, map[string]any{"port": 9001}, overrides["server"])
}

func TestCapabilitiesFor(t *testing.T) {
	cfg := &config.Config{
		RateLimits: core.RateLimitConfig{PerMinute: 4, PerDay: 500, PerMonth: 15500},
		Enrichment: config.EnrichmentConfig{RDAPEnabled: true},
	}

	keyed := capabilitiesFor(cfg, &upstream.Client{APIKey: "secret"})
	assert.True(t, keyed.APIKeyConfigured)
	assert.True(t, keyed.URLScan)
	assert.True(t, keyed.RDAP)
	assert.Equal(t, []string{"resolutions", "subdomains"}, keyed.Relationships)
	assert.Equal(t, 500, keyed.RateLimits.PerDay)

	anonymous := capabilitiesFor(cfg, &upstream.Client{})
	assert.False(t, anonymous.APIKeyConfigured)
	assert.False(t, anonymous.DomainReports)
	assert.Empty(t, anonymous.Relationships)
	assert.True(t, anonymous.RDAP)
}

func TestWriteResetResult(t *testing.T) {
	before := core.RateLimitSnapshot{Day: "2025-03-10", Month: "2025-03"}
	result := resetResult{Driver: "file", MinuteEvents: 2, DailyUsed: 9, MonthlyUsed: 40, DryRun: true}

	var buf bytes.Buffer
	require.NoError(t, writeResetResult(output.FormatTable, &buf, result, before))
	assert.Equal(t, "Would clear file counters: 2 minute event(s), day 2025-03-10 used 9, month 2025-03 used 40\n", buf.String())

	buf.Reset()
	require.NoError(t, writeResetResult(output.FormatJSON, &buf, result, before))
	assert.Contains(t, buf.String(), `"dry_run": true`)

	buf.Reset()
	require.NoError(t, writeResetResult(output.FormatYAML, &buf, result, before))
	assert.Contains(t, buf.String(), "monthly_used: 40")
}

func TestOpenCommandSinkOutDir(t *testing.T) {
	cmd := &cobra.Command{Use: "scan"}
	addOutputFlags(cmd)

	dir := filepath.Join(t.TempDir(), "reports")
	require.NoError(t, cmd.Flags().Set("out-dir", dir))

	sink, err := openCommandSink(cmd, output.FormatYAML, "scan.https://example.com")
	require.NoError(t, err)
	require.NoError(t, writeRendered(sink.writer, "outcome: success"))
	require.NoError(t, sink.close())

	data, err := os.ReadFile(filepath.Join(dir, "scan.example.com.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "outcome: success\n", string(data))
}

func TestOpenCommandSinkRejectsBothTargets(t *testing.T) {
	cmd := &cobra.Command{Use: "scan"}
	addOutputFlags(cmd)
	require.NoError(t, cmd.Flags().Set("out", "a.json"))
	require.NoError(t, cmd.Flags().Set("out-dir", "reports"))

	_, err := openCommandSink(cmd, output.FormatJSON, "scan")
	require.Error(t, err)
}

func TestRateLimitCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, sub := range rateLimitCmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["status"])
	assert.True(t, names["reset"])
}
