// Package updateengine installs signed update bundles from removable media
// in an air-gapped deployment: parse and verify a bundle, apply it as a
// sequence of component swaps with a pre-apply backup, and roll back to that
// backup on request. Grounded on scripts/build_update_bundle.py for the
// bundle/manifest shape and on the update-mechanism test fixtures for the
// exact parse/verify/extraction semantics.
package updateengine

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vault-ai/control-plane/internal/apierr"
)

// ManifestFile is one file entry of a bundle manifest: its path relative to
// the bundle root, expected content hash and size.
type ManifestFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest is the parsed contents of a bundle's manifest.json.
type Manifest struct {
	Version              string          `json:"version"`
	MinCompatibleVersion string          `json:"min_compatible_version"`
	CreatedAt            string          `json:"created_at"`
	Changelog            string          `json:"changelog"`
	Components           map[string]bool `json:"components"`
	Files                []ManifestFile  `json:"files"`
}

// componentOrder is the fixed apply order spec §4.4 mandates: database
// migrations first, then code, configuration, containers, and finally
// signatures. Any component named in a manifest but absent from this list
// is never applied — build_update_bundle.py never emits one.
var componentOrder = []string{"migrations", "backend", "frontend", "config", "containers", "signatures"}

// UpdateBundle wraps a single .tar archive on disk: uncompressed, containing
// a top-level vault-update-{version}/ directory with manifest.json at its
// root. Mirrors the original UpdateBundle class: the manifest must be parsed
// before Version or Components are readable.
type UpdateBundle struct {
	path     string
	manifest *Manifest
	rootDir  string // the "vault-update-{version}" prefix inside the archive
}

func NewUpdateBundle(path string) *UpdateBundle {
	return &UpdateBundle{path: path}
}

func (b *UpdateBundle) Path() string { return b.path }

// Version returns the parsed manifest's version, or an error if
// ParseManifest has not run yet.
func (b *UpdateBundle) Version() (string, error) {
	if b.manifest == nil {
		return "", apierr.Internal("bundle manifest has not been parsed", nil)
	}
	return b.manifest.Version, nil
}

func (b *UpdateBundle) Manifest() (*Manifest, error) {
	if b.manifest == nil {
		return nil, apierr.Internal("bundle manifest has not been parsed", nil)
	}
	return b.manifest, nil
}

// ParseManifest opens the archive without extracting it, locates the
// top-level manifest.json and decodes it.
func (b *UpdateBundle) ParseManifest() (*Manifest, error) {
	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.InvalidInput("bundle_path", fmt.Sprintf("update bundle %q not found", b.path))
		}
		return nil, err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apierr.InvalidInput("bundle", fmt.Sprintf("invalid bundle archive: %v", err))
		}
		if filepath.Base(hdr.Name) != "manifest.json" {
			continue
		}
		raw, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		var m Manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, apierr.InvalidInput("bundle", fmt.Sprintf("invalid bundle: Invalid JSON in manifest.json: %v", err))
		}
		b.manifest = &m
		b.rootDir = strings.TrimSuffix(hdr.Name, "/manifest.json")
		return &m, nil
	}
	return nil, apierr.InvalidInput("bundle", "bundle does not contain a manifest.json")
}

// ExtractTo extracts every safe member of the archive under destDir,
// dropping the leading "vault-update-{version}/" component so destDir ends
// up holding the bundle's component directories directly. Members with an
// absolute path, a ".." path-traversal segment, or a non-regular-file/
// non-directory type are silently skipped — they must not appear anywhere
// under destDir afterward.
func (b *UpdateBundle) ExtractTo(destDir string) error {
	f, err := os.Open(b.path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		name := filepath.ToSlash(hdr.Name)
		if !isSafeMember(name) {
			continue
		}
		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeDir {
			continue
		}

		rel := strings.TrimPrefix(name, b.rootDir+"/")
		rel = strings.TrimPrefix(rel, b.rootDir)
		if rel == "" || rel == "." {
			continue
		}
		target := filepath.Join(destDir, filepath.FromSlash(rel))
		if !isSafeMember(filepath.ToSlash(target)) {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
	return nil
}

// isSafeMember rejects absolute paths and parent-traversal members before
// they ever reach a filesystem write.
func isSafeMember(name string) bool {
	if name == "" {
		return false
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// VerifyChecksums computes SHA-256 of every file the manifest lists,
// relative to contentDir (the extracted "vault-update-{version}/"
// directory), and returns one error string per mismatch or missing file.
func (b *UpdateBundle) VerifyChecksums(contentDir string) ([]string, error) {
	m, err := b.Manifest()
	if err != nil {
		return nil, err
	}

	var errs []string
	for _, mf := range m.Files {
		full := filepath.Join(contentDir, filepath.FromSlash(mf.Path))
		sum, err := sha256File(full)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", mf.Path, err))
			continue
		}
		if sum != mf.SHA256 {
			errs = append(errs, fmt.Sprintf("Checksum mismatch for %s: expected %s, got %s", mf.Path, mf.SHA256, sum))
		}
	}
	return errs, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
