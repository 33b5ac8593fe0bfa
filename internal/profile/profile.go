// Package profile loads per-user configuration from the users directory.
package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FiltersFile is the policy document of a user.
const FiltersFile = "filters.json"

type Account struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Token          string `yaml:"token"`
	Active         *bool  `yaml:"active"`
	ManualOverride bool   `yaml:"manual_override"`
}

// Enabled is false only for an explicit active: false.
func (a Account) Enabled() bool { return a.Active == nil || *a.Active }

// Usable reports whether the account has what a run needs.
func (a Account) Usable() bool {
	return strings.TrimSpace(a.ID) != "" && strings.TrimSpace(a.Token) != ""
}

func (a Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if a.ID != "" {
		return a.ID
	}
	return "ACCOUNT"
}

type Profile struct {
	User                  string    `yaml:"-"`
	Dir                   string    `yaml:"-"`
	TGID                  string    `yaml:"tg_id"`
	ChatID                string    `yaml:"chat_id"`
	IncomePath            string    `yaml:"income_path"`
	NotifyIntervalMinutes *int      `yaml:"notify_interval_minutes"`
	Accounts              []Account `yaml:"accounts"`
	Cabinets              []Account `yaml:"cabinets"`
}

// AllAccounts returns accounts, falling back to the older "cabinets" key.
func (p Profile) AllAccounts() []Account {
	if len(p.Accounts) > 0 {
		return p.Accounts
	}
	return p.Cabinets
}

func (p Profile) FiltersPath() string { return filepath.Join(p.Dir, FiltersFile) }

// Load reads <root>/<user>/<user>.json, or <user>.yaml when no JSON profile
// exists. JSON is decoded with the YAML decoder, which accepts both.
func Load(root, user string) (Profile, error) {
	dir := filepath.Join(root, user)
	var path string
	for _, name := range []string{user + ".json", user + ".yaml", user + ".yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			path = p
			break
		}
	}
	if path == "" {
		return Profile{}, fmt.Errorf("profile for user %s: %w", user, fs.ErrNotExist)
	}

	var p Profile
	if err := loadYAML(path, &p); err != nil {
		return Profile{}, err
	}
	p.User = user
	p.Dir = dir
	p.ChatID = strings.TrimSpace(p.ChatID)
	p.IncomePath = strings.TrimSpace(p.IncomePath)
	for i := range p.Accounts {
		p.Accounts[i].normalize()
	}
	for i := range p.Cabinets {
		p.Cabinets[i].normalize()
	}
	return p, nil
}

func (a *Account) normalize() {
	a.ID = strings.TrimSpace(a.ID)
	a.Name = strings.TrimSpace(a.Name)
	a.Token = strings.TrimSpace(a.Token)
}

func loadYAML(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open profile %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(out); err != nil {
		return fmt.Errorf("failed to decode profile %s: %w", path, err)
	}
	return nil
}

// Discover lists the user directories under root, sorted. A missing root
// yields no users.
func Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
