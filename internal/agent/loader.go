package agent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// servicesFile is the YAML document shape for a services catalogue.
type servicesFile struct {
	Services []Service `yaml:"services"`
}

// LoadServices reads a services catalogue from a YAML file. An empty path
// returns nil so the caller falls back to [DefaultServices].
func LoadServices(path string) ([]Service, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("agent: open services file: %w", err)
	}
	defer f.Close()

	services, err := LoadServicesFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("agent: services file %q: %w", path, err)
	}
	return services, nil
}

// LoadServicesFromReader parses a services catalogue from r. Unknown YAML
// fields are rejected so typos surface at startup rather than as silently
// missing services.
func LoadServicesFromReader(r io.Reader) ([]Service, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file servicesFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(file.Services))
	for i := range file.Services {
		svc := &file.Services[i]
		if svc.Name == "" {
			errs = append(errs, fmt.Errorf("service %d: name is required", i))
			continue
		}
		if svc.ID == "" {
			svc.ID = slugify(svc.Name)
		}
		if seen[svc.ID] {
			errs = append(errs, fmt.Errorf("service %d: duplicate id %q", i, svc.ID))
		}
		seen[svc.ID] = true
		if svc.Price < 0 {
			errs = append(errs, fmt.Errorf("service %q: negative price", svc.ID))
		}
		if svc.DurationMinutes < 0 {
			errs = append(errs, fmt.Errorf("service %q: negative duration", svc.ID))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return file.Services, nil
}

// slugify derives a stable service ID from its display name.
func slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}
