package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// FileEntry is one account in an accounts file.
type FileEntry struct {
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	CookieFile       string `yaml:"cookie_file"`
	DailyConnections int    `yaml:"daily_connections"`
	DailyMessages    int    `yaml:"daily_messages"`
	Active           *bool  `yaml:"active"`
}

type accountsFile struct {
	Accounts map[string]FileEntry `yaml:"accounts"`
}

// LoadFile reads an accounts YAML file and builds every active account.
// Relative cookie_file paths resolve against the file's directory.
func LoadFile(path string) (map[string]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var f accountsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}

	handles := make([]string, 0, len(f.Accounts))
	for h := range f.Accounts {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	out := make(map[string]Account, len(handles))
	for _, handle := range handles {
		entry := f.Accounts[handle]
		if entry.Active != nil && !*entry.Active {
			continue
		}

		b := NewBuilder().
			WithHandle(handle).
			WithCredentials(entry.Username, entry.Password).
			WithQuotas(entry.DailyConnections, entry.DailyMessages)

		if entry.CookieFile != "" {
			cookiePath := entry.CookieFile
			if !filepath.IsAbs(cookiePath) {
				cookiePath = filepath.Join(filepath.Dir(path), cookiePath)
			}
			cookies, err := ReadCookieFile(cookiePath)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", handle, err)
			}
			b.WithCookies(cookies)
		}

		acct, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", handle, err)
		}
		out[handle] = acct
	}
	return out, nil
}

// ReadCookieFile decodes a JSON array of cookies.
func ReadCookieFile(path string) ([]Cookie, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cookies []Cookie
	if err := json.NewDecoder(file).Decode(&cookies); err != nil {
		return nil, fmt.Errorf("decode cookies %s: %w", path, err)
	}
	return cookies, nil
}

// WriteCookieFile stores cookies as JSON, creating parent directories.
func WriteCookieFile(path string, cookies []Cookie) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewEncoder(file).Encode(cookies)
}
