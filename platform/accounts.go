package platform

// accounts.go loads the platform account list. a platforms file looks like:
//
//	platforms:
//	  - name: test
//	    type: inmemory
//	  - name: prod-docker
//	    type: docker
//	    properties:
//	      network: corvus_network

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Account is one named platform instance and the deployer type backing it.
type Account struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

type accountsFile struct {
	Platforms []Account `yaml:"platforms"`
}

// Factory builds a deployer for an account of one platform type.
type Factory func(account Account) (Deployer, error)

// DefaultAccounts is used when no platforms file is configured:
// "test" is an in-memory platform and "local" installs onto the local filesystem.
func DefaultAccounts() []Account {
	return []Account{
		{Name: "test", Type: "inmemory"},
		{Name: "local", Type: "local"},
	}
}

// LoadAccounts reads the platform accounts from a YAML file.
func LoadAccounts(path string) ([]Account, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open platforms file: %w", err)
	}
	defer file.Close()
	return ParseAccounts(file)
}

// ParseAccounts decodes and checks a platforms document.
func ParseAccounts(reader io.Reader) ([]Account, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var parsed accountsFile
	if err := decoder.Decode(&parsed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode platforms file: %w", err)
	}

	seen := make(map[string]bool, len(parsed.Platforms))
	for i, account := range parsed.Platforms {
		if account.Name == "" || account.Type == "" {
			return nil, fmt.Errorf("platform entry %d: name and type are required", i)
		}
		if seen[account.Name] {
			return nil, fmt.Errorf("platform %q is defined twice", account.Name)
		}
		seen[account.Name] = true
	}
	return parsed.Platforms, nil
}

// BuildRegistry creates one deployer per account using the factory registered for its type.
func BuildRegistry(accounts []Account, factories map[string]Factory) (*Registry, error) {
	registry := NewRegistry()
	for _, account := range accounts {
		factory, ok := factories[account.Type]
		if !ok {
			return nil, fmt.Errorf("platform %q: unsupported type %q", account.Name, account.Type)
		}
		deployer, err := factory(account)
		if err != nil {
			return nil, fmt.Errorf("platform %q: %w", account.Name, err)
		}
		if err := registry.Register(account.Name, deployer); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
