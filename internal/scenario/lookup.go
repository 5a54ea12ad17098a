package scenario

import "fmt"

// Lookup resolves a scenario by name: "example" returns the compiled-in
// demo descriptor, anything else is treated as a path to a YAML scenario
// file. It exists so a worker process, re-exec'd from the coordinator, can
// reconstruct the same Descriptor the parent resolved, without needing to
// serialize Go closures across the process boundary.
func Lookup(name, baseURL string) (Descriptor, error) {
	switch name {
	case "", "example":
		return Example(baseURL), nil
	default:
		d, err := LoadFile(name, baseURL)
		if err != nil {
			return Descriptor{}, fmt.Errorf("scenario: lookup %q: %w", name, err)
		}
		return d, nil
	}
}
