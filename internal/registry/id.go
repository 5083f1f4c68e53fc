package registry

import (
	"fmt"
	"strings"
)

const DefaultNamespace = "minecraft"

// ParseID normalises a resource location of the form "namespace:path".
// A bare path gets the default namespace.
func ParseID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty id")
	}
	ns, path, ok := strings.Cut(s, ":")
	if !ok {
		ns, path = DefaultNamespace, s
	}
	if !validPart(ns, false) {
		return "", fmt.Errorf("invalid namespace in id %q", s)
	}
	if !validPart(path, true) {
		return "", fmt.Errorf("invalid path in id %q", s)
	}
	return ns + ":" + path, nil
}

// Namespace returns the namespace part of a normalised id.
func Namespace(id string) string {
	ns, _, ok := strings.Cut(id, ":")
	if !ok {
		return DefaultNamespace
	}
	return ns
}

func validPart(s string, allowSlash bool) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		case r == '/' && allowSlash:
		default:
			return false
		}
	}
	return true
}
