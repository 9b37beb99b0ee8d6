package updateengine

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// writeBackupTar snapshots every live directory named true in components
// into a single uncompressed tar at destPath, one top-level entry per
// component name.
func writeBackupTar(destPath string, dirs map[string]string, components map[string]bool) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	defer tw.Close()

	for name, enabled := range components {
		if !enabled {
			continue
		}
		dir := dirs[name]
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := addDirToTar(tw, dir, name); err != nil {
			return err
		}
	}
	return nil
}

func addDirToTar(tw *tar.Writer, dir, prefix string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(prefix, rel))

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// restoreBackupTar extracts a backup tar produced by writeBackupTar back
// into the live directories it was snapshotted from, replacing each
// destination directory wholesale.
func restoreBackupTar(srcPath string, dirs map[string]string, components map[string]bool) error {
	staging, err := os.MkdirTemp("", "vault-update-restore-tree-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

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
		target := filepath.Join(staging, filepath.FromSlash(name))
		if hdr.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, hdr.FileInfo().Mode())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		out.Close()
	}

	for name, enabled := range components {
		if !enabled {
			continue
		}
		dst := dirs[name]
		src := filepath.Join(staging, name)
		if dst == "" {
			continue
		}
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := replaceDirectory(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// encryptFile symmetrically encrypts srcPath with passphrase, writing an
// OpenPGP message to destPath.
func encryptFile(srcPath, destPath, passphrase string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w, err := openpgp.SymmetricallyEncrypt(out, []byte(passphrase), nil, &packet.Config{})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// decryptFile reverses encryptFile.
func decryptFile(srcPath, destPath, passphrase string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	md, err := openpgp.ReadMessage(in, nil, func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		return []byte(passphrase), nil
	}, nil)
	if err != nil {
		return err
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, md.UnverifiedBody)
	return err
}
