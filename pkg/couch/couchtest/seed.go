package couchtest

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/jsonc"
)

// SeedFile maps database names to the documents stored in them.
type SeedFile map[string][]json.RawMessage

// LoadSeed reads a seed file. Comments and trailing commas are allowed.
//
//	{
//	  // one entry per database
//	  "users": [{"_id": "alice", "name": "Alice"}],
//	}
func LoadSeed(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couchtest: read seed: %w", err)
	}
	var seed SeedFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &seed); err != nil {
		return nil, fmt.Errorf("couchtest: decode seed %s: %w", path, err)
	}
	return seed, nil
}

// Apply seeds every database of f into s, in name order.
func (f SeedFile) Apply(s *Server) error {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.Seed(name, f[name]); err != nil {
			return err
		}
	}
	return nil
}
