package shadow

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"zcu/internal/ids"
)

// writeBackup archives the given files under root into a zstd compressed
// tar in dir and returns the archive path.
func writeBackup(dir, root string, files []string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := fmt.Sprintf("backup-%s-%s.tar.zst", time.Now().UTC().Format("20060102T150405"), ids.New())
	archivePath := filepath.Join(dir, name)

	f, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", fmt.Errorf("create encoder: %w", err)
	}
	tw := tar.NewWriter(enc)

	for _, rel := range files {
		if err := addToTar(tw, root, rel); err != nil {
			enc.Close()
			return "", fmt.Errorf("backup %s: %w", rel, err)
		}
	}

	if err := tw.Close(); err != nil {
		enc.Close()
		return "", fmt.Errorf("close archive: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("close encoder: %w", err)
	}
	return archivePath, f.Close()
}

func addToTar(tw *tar.Writer, root, rel string) error {
	p := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = rel
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	src, err := os.Open(p)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(tw, src)
	return err
}

// ExtractBackup unpacks a backup archive written by a restore into target.
func ExtractBackup(archivePath, target string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	defer dec.Close()

	var restored []string
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		rel := normalizeRel(hdr.Name)
		dst := filepath.Join(target, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return restored, err
		}
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return restored, err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return restored, err
		}
		if err := out.Close(); err != nil {
			return restored, err
		}
		restored = append(restored, rel)
	}
	return restored, nil
}
