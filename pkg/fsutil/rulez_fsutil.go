package fsutil

import (
	"os"
	"path/filepath"
)

// Service user that owns data files when the engine runs as root.
const (
	ServiceUID = 999
	ServiceGID = 999
)

// WriteFileAtomic writes data through a temp sibling and renames it into
// place so readers never observe a partial file. The result is mode 0600
// and owned by the service user when running as root.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if os.Geteuid() == 0 {
		if err := os.Chown(tmpName, ServiceUID, ServiceGID); err != nil {
			return err
		}
	}
	return os.Rename(tmpName, path)
}

// Touch creates the file if missing, leaving existing content alone.
func Touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if os.Geteuid() == 0 {
		return os.Chown(path, ServiceUID, ServiceGID)
	}
	return nil
}
