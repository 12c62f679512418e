package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"
)

// BuildInfo is injected from main via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// VersionHandler serves build, dependency and runtime information.
type VersionHandler struct {
	Build    BuildInfo
	Identity *appidentity.Identity

	// UpstreamBaseURL is reported so operators can tell which API the
	// instance fronts.
	UpstreamBaseURL string
}

// VersionResponse represents the version information response
type VersionResponse struct {
	App          AppInfo     `json:"app"`
	Upstream     string      `json:"upstream,omitempty"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
}

// AppInfo contains application version details
type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// DepInfo contains dependency version information
type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

// RuntimeInfo contains runtime environment information
type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

func (h *VersionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	version := crucible.GetVersion()

	name := "unknown"
	if h.Identity != nil && h.Identity.BinaryName != "" {
		name = h.Identity.BinaryName
	} else if len(os.Args) > 0 && os.Args[0] != "" {
		name = filepath.Base(os.Args[0])
	}

	build := h.Build
	if build.Version == "" {
		build.Version = "dev"
	}
	if build.Commit == "" {
		build.Commit = "unknown"
	}
	if build.BuildDate == "" {
		build.BuildDate = "unknown"
	}

	writeJSON(w, http.StatusOK, VersionResponse{
		App: AppInfo{
			Name:      name,
			Version:   build.Version,
			Commit:    build.Commit,
			BuildDate: build.BuildDate,
			GoVersion: runtime.Version(),
		},
		Upstream: h.UpstreamBaseURL,
		Dependencies: DepInfo{
			Gofulmen: version.Gofulmen,
			Crucible: version.Crucible,
		},
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	})
}
