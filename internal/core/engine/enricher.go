package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/linkscanner/linkscanner/internal/core"
)

// DefaultRelationships are the graph relationships queried when none are configured.
var DefaultRelationships = []string{"resolutions", "subdomains"}

// DefaultRelationshipLimit caps objects returned per relationship.
const DefaultRelationshipLimit = 10

// DomainUpstream is the subset of the upstream API used for enrichment.
type DomainUpstream interface {
	DomainReport(ctx context.Context, domain string) (*core.DomainReport, error)
	Relationships(ctx context.Context, domain, relationship string, limit int) ([]core.RelatedObject, error)
}

// RegistrationSource resolves domain registration data.
type RegistrationSource interface {
	Lookup(ctx context.Context, domain string) (*core.Registration, error)
}

// Enrichment is the read-only context attached to an enhanced scan.
type Enrichment struct {
	Domain *core.DomainAnalysis
	Graph  *core.GraphAnalysis

	// Denial is set when the governor refused at least one enrichment call.
	Denial *core.Decision
}

// Enricher gathers domain reputation, registration and related-object data
// for the host of a scanned URL. Upstream calls go through Governor; RDAP
// lookups do not.
type Enricher struct {
	Upstream      DomainUpstream
	Registrar     RegistrationSource
	Governor      *Governor
	Relationships []string
	Limit         int
	Logger        *logging.Logger
}

// Enrich runs the enrichment calls concurrently. Failures are reported per
// section in the Errors maps; only an unusable URL is returned as an error.
func (e *Enricher) Enrich(ctx context.Context, rawURL string) (*Enrichment, error) {
	domain, err := HostFromURL(rawURL)
	if err != nil {
		return nil, err
	}

	out := &Enrichment{
		Domain: &core.DomainAnalysis{Domain: domain, Errors: map[string]string{}},
		Graph: &core.GraphAnalysis{
			Relationships: map[string][]core.RelatedObject{},
			Errors:        map[string]string{},
		},
	}
	if e == nil {
		return out, nil
	}

	var mu sync.Mutex
	deny := func(decision core.Decision) {
		mu.Lock()
		defer mu.Unlock()
		if out.Denial == nil {
			d := decision
			out.Denial = &d
		}
	}

	var g errgroup.Group

	if e.Upstream != nil {
		g.Go(func() error {
			if decision := e.Governor.Admit(ctx); !decision.Allowed {
				deny(decision)
				setError(&mu, out.Domain.Errors, "report", decision.Message())
				return nil
			}
			report, err := e.Upstream.DomainReport(ctx, domain)
			if err != nil {
				e.warn("Domain report failed", zap.String("domain", domain), zap.Error(err))
				setError(&mu, out.Domain.Errors, "report", err.Error())
				return nil
			}
			mu.Lock()
			out.Domain.Report = report
			mu.Unlock()
			return nil
		})

		for _, rel := range e.relationships() {
			g.Go(func() error {
				if decision := e.Governor.Admit(ctx); !decision.Allowed {
					deny(decision)
					setError(&mu, out.Graph.Errors, rel, decision.Message())
					return nil
				}
				objects, err := e.Upstream.Relationships(ctx, domain, rel, e.limit())
				if err != nil {
					e.warn("Relationship query failed",
						zap.String("domain", domain),
						zap.String("relationship", rel),
						zap.Error(err))
					setError(&mu, out.Graph.Errors, rel, err.Error())
					return nil
				}
				if objects == nil {
					objects = []core.RelatedObject{}
				}
				mu.Lock()
				out.Graph.Relationships[rel] = objects
				mu.Unlock()
				return nil
			})
		}
	}

	if e.Registrar != nil {
		g.Go(func() error {
			registration, err := e.Registrar.Lookup(ctx, domain)
			if err != nil {
				e.warn("Registration lookup failed", zap.String("domain", domain), zap.Error(err))
				setError(&mu, out.Domain.Errors, "registration", err.Error())
				return nil
			}
			mu.Lock()
			out.Domain.Registration = registration
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(out.Domain.Errors) == 0 {
		out.Domain.Errors = nil
	}
	if len(out.Graph.Errors) == 0 {
		out.Graph.Errors = nil
	}
	return out, nil
}

// HostFromURL extracts the lower-cased host name of rawURL. A missing scheme
// is tolerated.
func HostFromURL(rawURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", errors.New("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return "", fmt.Errorf("url has no host: %s", rawURL)
	}
	return host, nil
}

func setError(mu *sync.Mutex, errs map[string]string, key, msg string) {
	mu.Lock()
	errs[key] = msg
	mu.Unlock()
}

func (e *Enricher) relationships() []string {
	if len(e.Relationships) > 0 {
		return e.Relationships
	}
	return DefaultRelationships
}

func (e *Enricher) limit() int {
	if e.Limit > 0 {
		return e.Limit
	}
	return DefaultRelationshipLimit
}

func (e *Enricher) warn(msg string, fields ...zap.Field) {
	if e.Logger != nil {
		e.Logger.Warn(msg, fields...)
	}
}
