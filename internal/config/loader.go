package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadJSON decodes a JSON document into a slice of Server records and
// finalizes each one. This is not the declarative config-file grammar
// described in spec §6 (parsing that grammar is explicitly out of
// scope for the core engine); it's a structural stand-in that lets
// cmd/webserv boot from a file on disk using the same Server/Location
// shape the router expects.
func LoadJSON(path string) ([]Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var servers []Server
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if len(servers) == 0 {
		return nil, fmt.Errorf("config: %s declares no servers", path)
	}

	for i := range servers {
		s := &servers[i]
		if s.ListenPort == 0 {
			return nil, fmt.Errorf("config: server %d missing listen_port", i)
		}
		if len(s.Locations) == 0 {
			return nil, fmt.Errorf("config: server %d (%s) declares no locations", i, s.ServerName)
		}
		s.Finalize()
	}

	return servers, nil
}
