package config

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// DefaultFilename is the profile file kept in the home directory.
const DefaultFilename = ".netgatt.json"

// DefaultPath returns ~/.netgatt.json.
func DefaultPath() (string, error) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "unable to find the home directory")
	}
	return filepath.Join(dir, DefaultFilename), nil
}

// ProfileManager loads and stores the profiles of one file. Every
// change is written back immediately.
type ProfileManager struct {
	filename string

	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewProfileManager reads filename. A missing file is an empty set.
func NewProfileManager(filename string) (*ProfileManager, error) {
	m := &ProfileManager{
		filename: filename,
		profiles: map[string]*Profile{},
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Filename returns the file m persists to.
func (m *ProfileManager) Filename() string {
	return m.filename
}

func (m *ProfileManager) load() error {
	blob, err := os.ReadFile(m.filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "unable to read %s", m.filename)
	}
	var list []*Profile
	if err := jsoniter.Unmarshal(blob, &list); err != nil {
		return errors.Wrapf(err, "unable to parse %s", m.filename)
	}
	for _, p := range list {
		m.profiles[p.Name] = p
	}
	return nil
}

// save writes the profiles sorted by name. Called with m.mu held.
func (m *ProfileManager) save() error {
	b, err := jsoniter.MarshalIndent(m.sorted(), "", "    ")
	if err != nil {
		return errors.Wrap(err, "unable to encode the profiles")
	}
	if err := os.WriteFile(m.filename, b, 0o600); err != nil {
		return errors.Wrapf(err, "unable to write %s", m.filename)
	}
	return nil
}

func (m *ProfileManager) sorted() []*Profile {
	list := make([]*Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// List returns the profiles sorted by name.
func (m *ProfileManager) List() []*Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted()
}

// Get returns the profile called name.
func (m *ProfileManager) Get(name string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.profiles[name]
	if p == nil {
		return nil, errors.Wrapf(ErrProfileNotFound, "%q", name)
	}
	return p, nil
}

// Add validates p and stores it, replacing a profile of the same name.
func (m *ProfileManager) Add(p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Name] = p
	return m.save()
}

// Delete removes the profile called name.
func (m *ProfileManager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profiles[name] == nil {
		return errors.Wrapf(ErrProfileNotFound, "%q", name)
	}
	delete(m.profiles, name)
	return m.save()
}
