package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"
)

const (
	BinaryName  = "linkscanner"
	Vendor      = "linkscanner"
	EnvPrefix   = "LINKSCANNER_"
	ConfigName  = "linkscanner"
	Description = "Rate-governed URL reputation proxy for the VirusTotal v3 API"
)

// Get returns the application identity. The identity is compiled in so the
// binary behaves the same with or without a repository checkout around it.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	return &appidentity.Identity{
		BinaryName:  BinaryName,
		Vendor:      Vendor,
		EnvPrefix:   EnvPrefix,
		ConfigName:  ConfigName,
		Description: Description,
	}, nil
}

// TelemetryNamespace is the metric and log namespace for the service.
func TelemetryNamespace() string {
	return BinaryName
}
