package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/openrdap/rdap"

	"github.com/linkscanner/linkscanner/internal/core"
)

// RegistrationLookup resolves domain registration data over RDAP. It talks
// to registries directly and does not spend the VirusTotal quota.
type RegistrationLookup struct {
	Client  *rdap.Client
	Timeout time.Duration

	// ServerURL pins every query to one RDAP server instead of using the
	// IANA bootstrap registry.
	ServerURL string
}

// Lookup returns the registration summary for domain. An unregistered domain
// yields a Registration with Registered=false and no error.
func (r *RegistrationLookup) Lookup(ctx context.Context, domain string) (*core.Registration, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, errors.New("domain is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := &rdap.Client{}
	if r != nil && r.Client != nil {
		client = r.Client
	}

	req := rdap.NewDomainRequest(domain)
	if r != nil && r.ServerURL != "" {
		serverURL, err := url.Parse(r.ServerURL)
		if err != nil {
			return nil, fmt.Errorf("invalid rdap server url: %w", err)
		}
		req = req.WithServer(serverURL)
	}
	if r != nil && r.Timeout > 0 {
		req.Timeout = r.Timeout
	}
	req = req.WithContext(ctx)

	resp, err := client.Do(req)
	server := responseServer(resp)
	if err != nil {
		if isNotFound(err) {
			return &core.Registration{Registered: false, Server: server}, nil
		}
		return nil, fmt.Errorf("rdap lookup %s: %w", domain, err)
	}

	record, ok := resp.Object.(*rdap.Domain)
	if !ok {
		return nil, fmt.Errorf("rdap lookup %s: unexpected response object", domain)
	}

	return &core.Registration{
		Registered: true,
		Registrar:  findRegistrar(record),
		Created:    findEventDate(record.Events, "registration"),
		Expires:    findEventDate(record.Events, "expiration"),
		Status:     record.Status,
		Server:     server,
	}, nil
}

func responseServer(resp *rdap.Response) string {
	if resp == nil || len(resp.HTTP) == 0 || resp.HTTP[0] == nil {
		return ""
	}
	return resp.HTTP[0].URL
}

func findRegistrar(domain *rdap.Domain) string {
	if domain == nil {
		return ""
	}

	for _, entity := range domain.Entities {
		for _, role := range entity.Roles {
			if role == "registrar" && entity.VCard != nil {
				return entity.VCard.Name()
			}
		}
	}

	return ""
}

func findEventDate(events []rdap.Event, action string) string {
	for _, event := range events {
		if event.Action == action {
			return event.Date
		}
	}
	return ""
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var clientErr *rdap.ClientError
	if !errors.As(err, &clientErr) {
		return false
	}

	return clientErr.Type == rdap.ObjectDoesNotExist
}
