package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/acheong08/depaudit/pkg/models"
)

// ManifestFile is the npm manifest file name
const ManifestFile = "package.json"

// ErrManifestNotFound is returned when no package.json exists at the given location
var ErrManifestNotFound = errors.New("package.json not found")

// PackageJSON represents the structure of package.json
type PackageJSON struct {
	Name            string        `json:"name"`
	Version         string        `json:"version"`
	Dependencies    DependencyMap `json:"dependencies"`
	DevDependencies DependencyMap `json:"devDependencies"`
}

// ParsePackageJSON reads and parses a package.json file
func ParsePackageJSON(path string) (*PackageJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}

	return ParsePackageJSONBytes(data)
}

// ParsePackageJSONBytes parses package.json content already in memory
func ParsePackageJSONBytes(data []byte) (*PackageJSON, error) {
	var pkg PackageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}
	return &pkg, nil
}

// ToPackage converts PackageJSON to models.Package
func (p *PackageJSON) ToPackage() *models.Package {
	return &models.Package{
		ID:      p.Name + "@" + p.Version,
		Name:    p.Name,
		Version: p.Version,
	}
}

// GetAllDependencies returns production + dev dependencies in declaration order.
// A name declared in both keeps its position from dependencies but takes the
// devDependencies version, the same result as {...dependencies, ...devDependencies}.
func (p *PackageJSON) GetAllDependencies() []models.Dependency {
	merged := DependencyMap{}
	for _, name := range p.Dependencies.Names() {
		v, _ := p.Dependencies.Get(name)
		merged.Set(name, v)
	}
	for _, name := range p.DevDependencies.Names() {
		v, _ := p.DevDependencies.Get(name)
		merged.Set(name, v)
	}

	deps := make([]models.Dependency, 0, merged.Len())
	for _, name := range merged.Names() {
		v, _ := merged.Get(name)
		deps = append(deps, models.Dependency{Name: name, VersionSpec: v})
	}
	return deps
}

// FindPackageJSON searches for package.json in the given directory.
// A path that already points at a file is returned unchanged.
func FindPackageJSON(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w in %s", ErrManifestNotFound, path)
	}
	if !info.IsDir() {
		return path, nil
	}

	manifest := filepath.Join(path, ManifestFile)
	if _, err := os.Stat(manifest); os.IsNotExist(err) {
		return "", fmt.Errorf("%w in %s", ErrManifestNotFound, path)
	}
	return manifest, nil
}

// DependencyMap is a name -> version mapping that remembers declaration order
type DependencyMap struct {
	keys   []string
	values map[string]string
}

// Set adds or overwrites an entry. Overwriting keeps the original position.
func (m *DependencyMap) Set(name, version string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, exists := m.values[name]; !exists {
		m.keys = append(m.keys, name)
	}
	m.values[name] = version
}

// Get returns the version spec for name
func (m DependencyMap) Get(name string) (string, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Names returns the dependency names in declaration order
func (m DependencyMap) Names() []string {
	return append([]string(nil), m.keys...)
}

// Len returns the number of entries
func (m DependencyMap) Len() int {
	return len(m.keys)
}

// UnmarshalJSON decodes a JSON object while keeping key order
func (m *DependencyMap) UnmarshalJSON(data []byte) error {
	*m = DependencyMap{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("dependencies must be an object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected dependency key %v", keyTok)
		}

		var version string
		if err := dec.Decode(&version); err != nil {
			return fmt.Errorf("dependency %q: version must be a string: %w", name, err)
		}
		m.Set(name, version)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON encodes the map as a JSON object in declaration order
func (m DependencyMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.values[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
