package buildinfo

// set via -ldflags at release time
var (
	Version    = "v0.1.0"
	CommitHash = "unknown"
)

type Info struct {
	Service    string `json:"service,omitempty"`
	Version    string `json:"version,omitempty"`
	CommitHash string `json:"commit_hash,omitempty"`
}

func GetBuildInfo() Info {
	return Info{
		Service:    "oneplace",
		Version:    Version,
		CommitHash: CommitHash,
	}
}
