package model

// AssetEntry is a supported-asset allowlist record.
type AssetEntry struct {
	Asset  string `json:"asset"`
	Oracle string `json:"oracle"`
}
