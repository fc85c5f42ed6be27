package processor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// linkResult reports whether a destination entry was created, and when it
// was not, why.
type linkResult struct {
	Created bool
	Reason  string
}

// linkFile places the source at the destination using the configured mode.
// Hardlinks across filesystems or onto media that forbids them degrade to a
// copy. An existing destination is never touched.
func linkFile(source, destination, mode string) linkResult {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return linkResult{Reason: err.Error()}
	}
	if _, err := os.Lstat(destination); err == nil {
		return linkResult{Reason: "destination-exists"}
	}

	switch mode {
	case "hardlink":
		if err := os.Link(source, destination); err != nil {
			if errors.Is(err, syscall.EXDEV) || errors.Is(err, syscall.EPERM) {
				if copyErr := copyFile(source, destination); copyErr != nil {
					return linkResult{Reason: copyErr.Error()}
				}
				return linkResult{Created: true}
			}
			return linkResult{Reason: err.Error()}
		}
	case "copy":
		if err := copyFile(source, destination); err != nil {
			return linkResult{Reason: err.Error()}
		}
	case "symlink":
		if err := os.Symlink(source, destination); err != nil {
			return linkResult{Reason: err.Error()}
		}
	default:
		return linkResult{Reason: fmt.Sprintf("unsupported link mode %q", mode)}
	}
	return linkResult{Created: true}
}

func copyFile(source, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(destination)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(destination)
		return err
	}
	return os.Chtimes(destination, time.Now(), info.ModTime())
}
