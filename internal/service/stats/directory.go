package stats

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Directory maps public queue names to PBX queue extensions (DNs).
type Directory map[string]string

type directoryFile struct {
	Queues map[string]string `yaml:"queues"`
}

// LoadDirectory reads a queue directory from a YAML file of the form
//
//	queues:
//	  sales: "800"
//	  service: "801"
func LoadDirectory(path string) (Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading queue directory: %w", err)
	}
	return ParseDirectoryYAML(data)
}

// ParseDirectoryYAML parses queue directory YAML bytes.
func ParseDirectoryYAML(data []byte) (Directory, error) {
	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing queue directory: %w", err)
	}
	dir := Directory{}
	for name, dn := range f.Queues {
		if err := dir.add(name, dn); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

// ParseDirectory parses the compact "name=dn,name=dn" form.
func ParseDirectory(raw string) (Directory, error) {
	dir := Directory{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, dn, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid queue entry %q: expected name=dn", pair)
		}
		if err := dir.add(name, dn); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

func (d Directory) add(name, dn string) error {
	name = strings.TrimSpace(name)
	dn = strings.TrimSpace(dn)
	if name == "" || dn == "" {
		return fmt.Errorf("invalid queue entry %q=%q: name and dn are required", name, dn)
	}
	d[name] = dn
	return nil
}

// Lookup returns the DN of a queue.
func (d Directory) Lookup(name string) (string, bool) {
	dn, ok := d[name]
	return dn, ok
}

// Names returns the configured queue names in sorted order.
func (d Directory) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
