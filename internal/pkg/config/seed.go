package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TenantSeed is one tenant to provision at start-up with a known key.
type TenantSeed struct {
	PlaceID string `yaml:"place_id"`
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
}

type tenantSeedFile struct {
	Places []TenantSeed `yaml:"places"`
}

// LoadTenantSeed reads the YAML seed file at path.
//
//	places:
//	  - place_id: "1818"
//	    name: Crossroads
//	    api_key: plc_...
func LoadTenantSeed(path string) ([]TenantSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant seed file: %w", err)
	}

	var f tenantSeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tenant seed file: %w", err)
	}

	seen := make(map[string]bool, len(f.Places))
	for i, p := range f.Places {
		if p.PlaceID == "" || p.APIKey == "" {
			return nil, fmt.Errorf("tenant seed entry %d: place_id and api_key are required", i)
		}
		if seen[p.PlaceID] {
			return nil, fmt.Errorf("tenant seed entry %d: duplicate place_id %q", i, p.PlaceID)
		}
		seen[p.PlaceID] = true
	}
	return f.Places, nil
}
