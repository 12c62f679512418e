package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkscanner/linkscanner/internal/core"
)

type fakeDomainUpstream struct {
	mu        sync.Mutex
	report    *core.DomainReport
	reportErr error
	related   map[string][]core.RelatedObject
	relErr    map[string]error
	calls     int
}

func (f *fakeDomainUpstream) DomainReport(ctx context.Context, domain string) (*core.DomainReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.report, f.reportErr
}

func (f *fakeDomainUpstream) Relationships(ctx context.Context, domain, relationship string, limit int) ([]core.RelatedObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.relErr[relationship]; err != nil {
		return nil, err
	}
	return f.related[relationship], nil
}

type fakeRegistrar struct {
	registration *core.Registration
	err          error
}

func (f *fakeRegistrar) Lookup(ctx context.Context, domain string) (*core.Registration, error) {
	return f.registration, f.err
}

func newTestEnricherGovernor(limits core.RateLimitConfig) *Governor {
	clock := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)}
	return &Governor{Limits: limits, Clock: clock.Now}
}

func TestEnrichCollectsAllSections(t *testing.T) {
	up := &fakeDomainUpstream{
		report: &core.DomainReport{Domain: "example.com", Reputation: 3},
		related: map[string][]core.RelatedObject{
			"resolutions": {{ID: "93.184.216.34example.com", Type: "resolution"}},
		},
	}
	gov := newTestEnricherGovernor(DefaultRateLimits)
	enricher := &Enricher{
		Upstream:  up,
		Registrar: &fakeRegistrar{registration: &core.Registration{Registrar: "RESERVED-IANA", Registered: true}},
		Governor:  gov,
	}

	out, err := enricher.Enrich(context.Background(), "https://WWW.Example.com/path?q=1")
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", out.Domain.Domain)
	require.NotNil(t, out.Domain.Report)
	assert.Equal(t, 3, out.Domain.Report.Reputation)
	require.NotNil(t, out.Domain.Registration)
	assert.Equal(t, "RESERVED-IANA", out.Domain.Registration.Registrar)
	assert.Nil(t, out.Domain.Errors)
	assert.Len(t, out.Graph.Relationships["resolutions"], 1)
	assert.Empty(t, out.Graph.Relationships["subdomains"])
	assert.Nil(t, out.Graph.Errors)
	assert.Nil(t, out.Denial)

	// RDAP does not consume the upstream budget.
	assert.Equal(t, 3, gov.Status(context.Background()).DailyUsed)
}

func TestEnrichReportsSectionErrors(t *testing.T) {
	up := &fakeDomainUpstream{
		reportErr: errors.New("domain report unavailable"),
		relErr:    map[string]error{"subdomains": errors.New("boom")},
	}
	enricher := &Enricher{
		Upstream:  up,
		Registrar: &fakeRegistrar{err: errors.New("rdap down")},
		Governor:  newTestEnricherGovernor(DefaultRateLimits),
	}

	out, err := enricher.Enrich(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "domain report unavailable", out.Domain.Errors["report"])
	assert.Equal(t, "rdap down", out.Domain.Errors["registration"])
	assert.Equal(t, "boom", out.Graph.Errors["subdomains"])
	assert.Contains(t, out.Graph.Relationships, "resolutions")
}

func TestEnrichStopsAtGovernor(t *testing.T) {
	up := &fakeDomainUpstream{report: &core.DomainReport{Domain: "example.com"}}
	gov := newTestEnricherGovernor(core.RateLimitConfig{PerMinute: 1, PerDay: 500, PerMonth: 15500})
	enricher := &Enricher{Upstream: up, Governor: gov}

	out, err := enricher.Enrich(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, out.Denial)
	assert.Equal(t, core.ReasonMinuteLimitExceeded, out.Denial.Reason)
	assert.Equal(t, 1, up.calls)
	denied := len(out.Domain.Errors) + len(out.Graph.Errors)
	assert.Equal(t, 2, denied)
}

func TestEnrichRejectsEmptyURL(t *testing.T) {
	_, err := (&Enricher{}).Enrich(context.Background(), "")
	require.Error(t, err)
}

func TestEnrichNilEnricher(t *testing.T) {
	var enricher *Enricher
	out, err := enricher.Enrich(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", out.Domain.Domain)
}

func TestHostFromURL(t *testing.T) {
	cases := map[string]string{
		"https://example.com":           "example.com",
		"http://Sub.Example.COM:8080/a": "sub.example.com",
		"example.org/path":              "example.org",
		"https://user:pw@example.net/x": "example.net",
		"https://example.com./trailing": "example.com",
	}
	for input, want := range cases {
		got, err := HostFromURL(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := HostFromURL("https://")
	require.Error(t, err)
}
