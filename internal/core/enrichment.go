package core

// DomainReport is the upstream reputation view of a registrable domain.
type DomainReport struct {
	Domain       string            `json:"domain" yaml:"domain"`
	Reputation   int               `json:"reputation" yaml:"reputation"`
	Categories   map[string]string `json:"categories,omitempty" yaml:"categories,omitempty"`
	Stats        AnalysisStats     `json:"last_analysis_stats,omitempty" yaml:"last_analysis_stats,omitempty"`
	Registrar    string            `json:"registrar,omitempty" yaml:"registrar,omitempty"`
	CreationDate int64             `json:"creation_date,omitempty" yaml:"creation_date,omitempty"`
	Tags         []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Registration summarizes an RDAP domain record.
type Registration struct {
	Registrar  string   `json:"registrar,omitempty" yaml:"registrar,omitempty"`
	Created    string   `json:"created,omitempty" yaml:"created,omitempty"`
	Expires    string   `json:"expires,omitempty" yaml:"expires,omitempty"`
	Status     []string `json:"status,omitempty" yaml:"status,omitempty"`
	Server     string   `json:"server,omitempty" yaml:"server,omitempty"`
	Registered bool     `json:"registered" yaml:"registered"`
}

// RelatedObject is one node returned by a relationship query.
type RelatedObject struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"`
}

// DomainAnalysis is the domain section of an enhanced scan.
type DomainAnalysis struct {
	Domain       string            `json:"domain" yaml:"domain"`
	Report       *DomainReport     `json:"report,omitempty" yaml:"report,omitempty"`
	Registration *Registration     `json:"registration,omitempty" yaml:"registration,omitempty"`
	Errors       map[string]string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// GraphAnalysis is the related-object discovery section of an enhanced scan.
type GraphAnalysis struct {
	Relationships map[string][]RelatedObject `json:"relationships" yaml:"relationships"`
	Errors        map[string]string          `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// APICapabilities reports which upstream features this instance can use.
type APICapabilities struct {
	APIKeyConfigured bool            `json:"api_key_configured" yaml:"api_key_configured"`
	URLScan          bool            `json:"url_scan" yaml:"url_scan"`
	DomainReports    bool            `json:"domain_reports" yaml:"domain_reports"`
	RDAP             bool            `json:"rdap" yaml:"rdap"`
	Relationships    []string        `json:"relationships" yaml:"relationships"`
	RateLimits       RateLimitConfig `json:"rate_limits" yaml:"rate_limits"`
}
