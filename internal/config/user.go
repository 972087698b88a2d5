package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio"
)

// UserVersion is the user config file format version.
const UserVersion = 1

// UserDepot is the depot section of the user config file.
type UserDepot struct {
	URL    string `json:"url,omitempty"`
	Key    string `json:"key,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// User is the on-disk layout of ~/.gitbig.
type User struct {
	Version  int       `json:"version"`
	CacheDir string    `json:"cache_dir"`
	Depot    UserDepot `json:"depot"`
}

// DefaultUser is written when no user config exists yet.
func DefaultUser() User {
	return User{Version: UserVersion, CacheDir: DefaultCacheDir()}
}

// Marshal renders u the way it is stored on disk.
func (u User) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(u, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// EnsureUser creates the user config at path with defaults when it does not
// exist. An existing file is left as is.
func EnsureUser(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat user config: %w", err)
	}
	data, err := DefaultUser().Marshal()
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write user config: %w", err)
	}
	return nil
}
