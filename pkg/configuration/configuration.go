package configuration

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
)

// Role distinguishes the purposes for which a configuration may exist.
type Role int

const (
	// RoleTarget is the configuration of the artifacts the user
	// asked to build.
	RoleTarget Role = iota
	// RoleHost is the configuration of tools that run as part of
	// the build itself, such as compilers and code generators.
	RoleHost
)

func (r Role) String() string {
	switch r {
	case RoleTarget:
		return "target"
	case RoleHost:
		return "host"
	default:
		return "unknown"
	}
}

// Fragment is a named namespace of build parameters within a
// configuration ("cpp", "coverage", ...). Rule kinds must declare the
// fragments they read.
type Fragment struct {
	name   string
	params map[string]string
}

func (f *Fragment) Name() string {
	return f.name
}

func (f *Fragment) Get(key string) (string, bool) {
	value, ok := f.params[key]
	return value, ok
}

// Configuration is an immutable bundle of build parameters, grouped
// into fragments. Two configurations are equal iff their role and all
// parameters are equal, which is captured by a canonical fingerprint.
// Configured targets are memoized by (label, fingerprint), so the same
// target may be analyzed once per distinct configuration.
type Configuration struct {
	role        Role
	fragments   map[string]*Fragment
	fingerprint string
}

// New creates a configuration with the given role and fragment
// parameters. The parameter maps are copied, leaving the configuration
// immutable regardless of what the caller does with its arguments.
func New(role Role, fragments map[string]map[string]string) *Configuration {
	frozen := make(map[string]*Fragment, len(fragments))
	h := sha256.New()
	h.Write([]byte{byte(role)})
	for _, name := range slices.Sorted(maps.Keys(fragments)) {
		params := maps.Clone(fragments[name])
		frozen[name] = &Fragment{name: name, params: params}
		h.Write([]byte(name))
		h.Write([]byte{0x00})
		for _, key := range slices.Sorted(maps.Keys(params)) {
			h.Write([]byte(key))
			h.Write([]byte{0x00})
			h.Write([]byte(params[key]))
			h.Write([]byte{0x00})
		}
		h.Write([]byte{0x00})
	}
	return &Configuration{
		role:        role,
		fragments:   frozen,
		fingerprint: hex.EncodeToString(h.Sum(nil)),
	}
}

func (c *Configuration) Role() Role {
	return c.role
}

// Fingerprint returns a stable digest of the role and all parameters.
// Configurations with equal fingerprints are interchangeable.
func (c *Configuration) Fingerprint() string {
	return c.fingerprint
}

func (c *Configuration) Equal(other *Configuration) bool {
	return c.fingerprint == other.fingerprint
}

// GetFragment returns the named fragment, if the configuration carries
// it. Fragments are only visible to units analyzed under this
// configuration; there is no sharing between the target and host
// configurations.
func (c *Configuration) GetFragment(name string) (*Fragment, bool) {
	fragment, ok := c.fragments[name]
	return fragment, ok
}

// FragmentNames returns the names of all fragments in sorted order.
func (c *Configuration) FragmentNames() []string {
	return slices.Sorted(maps.Keys(c.fragments))
}
