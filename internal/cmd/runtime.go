package cmd

import (
	"context"
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/openrdap/rdap"
	"go.uber.org/zap"

	"github.com/linkscanner/linkscanner/internal/appid"
	"github.com/linkscanner/linkscanner/internal/config"
	"github.com/linkscanner/linkscanner/internal/core"
	"github.com/linkscanner/linkscanner/internal/core/engine"
	"github.com/linkscanner/linkscanner/internal/core/store"
	"github.com/linkscanner/linkscanner/internal/core/upstream"
)

// scanRuntime is the set of components shared by serve and scan.
type scanRuntime struct {
	Config       *config.Config
	Store        store.CounterStore
	Governor     *engine.Governor
	Client       *upstream.Client
	Orchestrator *engine.Orchestrator
	Enricher     *engine.Enricher
	Capabilities core.APICapabilities
}

func newScanRuntime(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*scanRuntime, error) {
	governor, counters, err := openGovernor(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	vt := cfg.VirusTotal
	client := &upstream.Client{
		APIKey:    strings.TrimSpace(vt.APIKey),
		BaseURL:   vt.BaseURL,
		HTTP:      &http.Client{Timeout: vt.Timeout},
		UserAgent: appid.BinaryName + "/" + versionInfo.Version,
	}
	if vt.Breaker.Enabled {
		client.Breaker = upstream.NewBreaker(appid.BinaryName+"-virustotal", vt.Breaker.MaxFailures, vt.Breaker.OpenTimeout)
	}

	orchestrator := &engine.Orchestrator{
		Upstream:        client,
		Governor:        governor,
		PollInterval:    vt.PollInterval,
		MaxPollAttempts: vt.MaxPollAttempts,
		Logger:          logger,
	}

	enricher := &engine.Enricher{
		Upstream:      client,
		Governor:      governor,
		Relationships: cfg.Enrichment.Relationships,
		Limit:         cfg.Enrichment.Limit,
		Logger:        logger,
	}
	if cfg.Enrichment.RDAPEnabled {
		enricher.Registrar = &upstream.RegistrationLookup{
			Client:  &rdap.Client{HTTP: &http.Client{Timeout: cfg.Enrichment.RDAPTimeout}},
			Timeout: cfg.Enrichment.RDAPTimeout,
		}
	}

	rt := &scanRuntime{
		Config:       cfg,
		Store:        counters,
		Governor:     governor,
		Client:       client,
		Orchestrator: orchestrator,
		Enricher:     enricher,
		Capabilities: capabilitiesFor(cfg, client),
	}

	if logger != nil && client.Configured() != nil {
		logger.Warn("No VirusTotal API key configured; scans will report upstream errors",
			zap.String("env", config.LegacyAPIKeyEnv))
	}
	return rt, nil
}

// Close releases the counter store.
func (rt *scanRuntime) Close() error {
	if rt == nil || rt.Store == nil {
		return nil
	}
	return rt.Store.Close()
}

func capabilitiesFor(cfg *config.Config, client *upstream.Client) core.APICapabilities {
	keyed := client.Configured() == nil
	relationships := cfg.Enrichment.Relationships
	if len(relationships) == 0 {
		relationships = engine.DefaultRelationships
	}
	if !keyed {
		relationships = []string{}
	}
	return core.APICapabilities{
		APIKeyConfigured: keyed,
		URLScan:          keyed,
		DomainReports:    keyed,
		RDAP:             cfg.Enrichment.RDAPEnabled,
		Relationships:    relationships,
		RateLimits:       cfg.RateLimits,
	}
}
