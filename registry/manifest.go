package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// manifest is the on-disk shape of a server manifest:
//
//	servers:
//	  - name: files
//	    command: file-server
//	    args: ["--root", "/srv/data"]
//	    env:
//	      LOG_LEVEL: debug
type manifest struct {
	Servers []ServerDescriptor `yaml:"servers"`
}

// LoadManifest reads a YAML server manifest and returns its descriptors.
func LoadManifest(path string) ([]ServerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses YAML manifest bytes into validated descriptors.
func ParseManifest(data []byte) ([]ServerDescriptor, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}
	if len(m.Servers) == 0 {
		return nil, fmt.Errorf("manifest declares no servers")
	}

	seen := make(map[string]struct{}, len(m.Servers))
	for i, d := range m.Servers {
		if d.Name == "" {
			return nil, fmt.Errorf("servers[%d]: missing name", i)
		}
		if d.Command == "" {
			return nil, fmt.Errorf("servers[%d] (%s): missing command", i, d.Name)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("servers[%d]: duplicate name %s", i, d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return m.Servers, nil
}
