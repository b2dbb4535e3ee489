// Package shmroot resolves HORUS's shared-memory namespace: a single root
// directory under which every Region lives, and the key-sanitization rules
// that keep topic and heartbeat names from escaping it.
package shmroot

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	// envRoot replaces defaultBase; namespaceDir is still appended to it.
	envRoot = "HORUS_SHM_ROOT"

	// defaultBase is the host's conventional shared-memory filesystem.
	defaultBase = "/dev/shm"

	// namespaceDir is the fixed subdirectory under the root namespace, as
	// described in the external interfaces: "a horus/ subdirectory of the
	// host's shared-memory root".
	namespaceDir = "horus"

	// TopicsNamespace is the keyspace for topic rings.
	TopicsNamespace = "topics"

	// HeartbeatsNamespace is the keyspace for scheduler heartbeat files.
	HeartbeatsNamespace = "heartbeats"
)

// InvalidNameError reports a key that cannot be mapped onto the namespace.
type InvalidNameError struct {
	Key    string
	Reason string
}

func (m InvalidNameError) Error() string {
	return fmt.Sprintf("invalid name %q: %s", m.Key, m.Reason)
}

// validKey matches the characters HORUS allows in a topic or scheduler
// identity: no path separators, no leading dot, ASCII identifier-ish.
var validKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Root returns the namespace root directory, honoring HORUS_SHM_ROOT.
func Root() string {
	if v := os.Getenv(envRoot); v != "" {
		return filepath.Join(v, namespaceDir)
	}
	return filepath.Join(defaultBase, namespaceDir)
}

// ValidateKey rejects names containing path separators or characters outside
// the allowed identifier set. Names are case-sensitive.
func ValidateKey(key string) error {
	if key == "" {
		return InvalidNameError{Key: key, Reason: "empty name"}
	}
	if !validKey.MatchString(key) {
		return InvalidNameError{Key: key, Reason: "must match [A-Za-z0-9][A-Za-z0-9_.-]*"}
	}
	return nil
}

// PathFor validates key and returns its absolute path within namespace
// (one of TopicsNamespace or HeartbeatsNamespace).
func PathFor(namespace, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(Root(), namespace, key), nil
}

// EnsureNamespaceDir creates the directory for namespace under the root,
// returning its path.
func EnsureNamespaceDir(namespace string) (string, error) {
	dir := filepath.Join(Root(), namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create namespace dir %s: %w", dir, err)
	}
	return dir, nil
}
