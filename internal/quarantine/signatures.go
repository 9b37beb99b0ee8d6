package quarantine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/vault-ai/control-plane/internal/config"
)

// Freshness classifies how old the newest artifact of a signature source
// is: fresh (<24h), stale (<168h / 7d), outdated (>=168h), or missing when
// the source has never been installed.
type Freshness string

const (
	FreshnessFresh    Freshness = "fresh"
	FreshnessStale    Freshness = "stale"
	FreshnessOutdated Freshness = "outdated"
	FreshnessMissing  Freshness = "missing"
)

type SourceFreshness struct {
	Freshness   Freshness  `json:"freshness"`
	AgeHours    *float64   `json:"age_hours"`
	LastUpdated *time.Time `json:"last_updated"`
	FileCount   int        `json:"file_count,omitempty"`
}

// FreshnessReport covers all three signature sources the pipeline depends
// on: ClamAV databases, YARA rule files, and the hash blacklist.
type FreshnessReport struct {
	ClamAV    SourceFreshness `json:"clamav"`
	YARA      SourceFreshness `json:"yara"`
	Blacklist SourceFreshness `json:"blacklist"`
}

// SignatureManager installs signature updates from a USB-mounted bundle
// and reports on their staleness.
type SignatureManager struct {
	clamavDir     string
	yaraDir       string
	blacklistPath string
}

func NewSignatureManager(cfg config.QuarantineConfig) *SignatureManager {
	return &SignatureManager{
		clamavDir:     filepath.Join(cfg.SignaturesDir, "clamav"),
		yaraDir:       cfg.YARARulesDir,
		blacklistPath: cfg.HashBlacklistPath,
	}
}

// BundleUpdateResult summarizes what a bundle install actually changed.
type BundleUpdateResult struct {
	ClamAVUpdated    bool `json:"clamav_updated"`
	ClamAVFiles      int  `json:"clamav_files,omitempty"`
	YARAUpdated      bool `json:"yara_updated"`
	YARARules        int  `json:"yara_rules,omitempty"`
	BlacklistUpdated bool `json:"blacklist_updated"`
	BlacklistHashes  int  `json:"blacklist_hashes,omitempty"`
}

// expectedBundleLayout:
//
//	bundle/
//	├── clamav/          *.cvd / *.cld signature databases
//	├── yara_rules/      *.yar / *.yara rule files
//	└── blacklist.json   {"hashes": [...]}
func (m *SignatureManager) UpdateFromBundle(bundlePath string) (BundleUpdateResult, error) {
	var result BundleUpdateResult

	info, err := os.Stat(bundlePath)
	if err != nil || !info.IsDir() {
		return result, nil
	}

	if files := globAll(filepath.Join(bundlePath, "clamav"), "*.cvd", "*.cld"); len(files) > 0 {
		if err := os.MkdirAll(m.clamavDir, 0o755); err != nil {
			return result, err
		}
		for _, f := range files {
			if err := copyFile(f, filepath.Join(m.clamavDir, filepath.Base(f))); err != nil {
				return result, err
			}
		}
		result.ClamAVUpdated = true
		result.ClamAVFiles = len(files)
	}

	if files := globAll(filepath.Join(bundlePath, "yara_rules"), "*.yar", "*.yara"); len(files) > 0 {
		if err := os.MkdirAll(m.yaraDir, 0o755); err != nil {
			return result, err
		}
		for _, f := range files {
			if err := copyFile(f, filepath.Join(m.yaraDir, filepath.Base(f))); err != nil {
				return result, err
			}
		}
		result.YARAUpdated = true
		result.YARARules = len(files)
	}

	blPath := filepath.Join(bundlePath, "blacklist.json")
	if data, err := os.ReadFile(blPath); err == nil {
		var doc hashBlacklistFile
		if json.Unmarshal(data, &doc) == nil && doc.Hashes != nil {
			if err := os.MkdirAll(filepath.Dir(m.blacklistPath), 0o755); err != nil {
				return result, err
			}
			if err := copyFile(blPath, m.blacklistPath); err != nil {
				return result, err
			}
			result.BlacklistUpdated = true
			result.BlacklistHashes = len(doc.Hashes)
		}
	}

	return result, nil
}

func globAll(dir string, patterns ...string) []string {
	var out []string
	for _, p := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, p))
		if err == nil {
			out = append(out, matches...)
		}
	}
	return out
}

func (m *SignatureManager) GetFreshness() FreshnessReport {
	return FreshnessReport{
		ClamAV:    freshnessOf(globAll(m.clamavDir, "*.cvd", "*.cld")),
		YARA:      freshnessOf(globAll(m.yaraDir, "*.yar", "*.yara")),
		Blacklist: freshnessOfSingle(m.blacklistPath),
	}
}

func freshnessOf(files []string) SourceFreshness {
	if len(files) == 0 {
		return SourceFreshness{Freshness: FreshnessMissing}
	}
	var newest time.Time
	for _, f := range files {
		if info, err := os.Stat(f); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return buildFreshness(newest, len(files))
}

func freshnessOfSingle(path string) SourceFreshness {
	info, err := os.Stat(path)
	if err != nil {
		return SourceFreshness{Freshness: FreshnessMissing}
	}
	return buildFreshness(info.ModTime(), 0)
}

func buildFreshness(mtime time.Time, count int) SourceFreshness {
	ageHours := time.Since(mtime).Hours()
	var classified Freshness
	switch {
	case ageHours < 24:
		classified = FreshnessFresh
	case ageHours < 168:
		classified = FreshnessStale
	default:
		classified = FreshnessOutdated
	}
	rounded := roundTo1(ageHours)
	return SourceFreshness{Freshness: classified, AgeHours: &rounded, LastUpdated: &mtime, FileCount: count}
}

func roundTo1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
