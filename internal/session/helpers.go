package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// ReadPassphraseFile reads a vault passphrase from a file, dropping the
// trailing newline. The file must not be readable by group or others.
func ReadPassphraseFile(path string) ([]byte, error) {
	path = expandHome(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat passphrase file: %w", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("passphrase file %s is accessible by other users (mode %04o)", path, info.Mode().Perm())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read passphrase file: %w", err)
	}
	pass := []byte(strings.TrimRight(string(data), "\r\n"))
	for i := range data {
		data[i] = 0
	}
	if len(pass) == 0 {
		return nil, fmt.Errorf("passphrase file %s is empty", path)
	}
	return pass, nil
}
