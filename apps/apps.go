// Package apps describes installable TPAs and resolves package names to
// their records. The catalog itself lives elsewhere; this package defines
// the record shape, the Directory lookup interface, and a file-backed
// directory for self-hosted deployments.
package apps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/OkGoDoIt/AugmentOS/auth"
)

// Kind classifies how an app occupies the glasses display.
type Kind string

const (
	// KindStandard apps own the main display; at most one runs per session.
	KindStandard Kind = "standard"
	// KindBackground apps run alongside anything.
	KindBackground Kind = "background"
	// KindSystem apps are trusted built-ins reachable on the internal
	// network. They may bind without being started first.
	KindSystem Kind = "system"
)

// Command is a voice command an app listens for. The phrase is matched
// case-insensitively as a substring of final English transcripts.
type Command struct {
	ID         string            `json:"id"`
	Phrase     string            `json:"phrase"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// App is one installable TPA record.
type App struct {
	PackageName string    `json:"packageName"`
	Name        string    `json:"name"`
	Kind        Kind      `json:"kind"`
	PublicURL   string    `json:"publicUrl"`
	APIKeyHash  string    `json:"apiKeyHash"`
	Commands    []Command `json:"commands,omitempty"`
}

// WebhookURL is where lifecycle webhooks for this app are POSTed.
func (a *App) WebhookURL() string {
	return strings.TrimSuffix(a.PublicURL, "/") + "/webhook"
}

func (a *App) IsSystem() bool { return a.Kind == KindSystem }

// CheckAPIKey reports whether key matches the record's stored digest.
func (a *App) CheckAPIKey(key string) bool {
	return auth.CheckKey(a.APIKeyHash, key)
}

var ErrAppNotFound = errors.New("app not found")

// Directory resolves package names to app records.
type Directory interface {
	Get(ctx context.Context, packageName string) (*App, error)
}

// StaticDirectory serves a fixed set of app records.
type StaticDirectory struct {
	mu   sync.RWMutex
	apps map[string]*App
}

// NewStaticDirectory builds a directory from records.
func NewStaticDirectory(records ...*App) *StaticDirectory {
	d := &StaticDirectory{apps: make(map[string]*App, len(records))}
	for _, a := range records {
		d.apps[a.PackageName] = a
	}
	return d
}

// LoadDirectory reads a JSON array of app records from path.
func LoadDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load app directory: %w", err)
	}
	var records []*App
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse app directory %s: %w", path, err)
	}
	for _, a := range records {
		if a.PackageName == "" {
			return nil, fmt.Errorf("parse app directory %s: record missing packageName", path)
		}
	}
	return NewStaticDirectory(records...), nil
}

func (d *StaticDirectory) Get(_ context.Context, packageName string) (*App, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.apps[packageName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, packageName)
	}
	return a, nil
}

// Put inserts or replaces a record.
func (d *StaticDirectory) Put(a *App) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.apps[a.PackageName] = a
}
