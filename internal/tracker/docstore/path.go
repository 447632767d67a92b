package docstore

import (
	"fmt"
	"strings"
)

// Collections held under each tenant.
const (
	CollectionRecords = "records"
	CollectionMeta    = "meta"
)

// Path addresses one document: tenant/{tenant}/{collection}/{id}.
type Path struct {
	Tenant     string
	Collection string
	ID         string
}

// String renders the hierarchical path.
func (p Path) String() string {
	return fmt.Sprintf("tenant/%s/%s/%s", p.Tenant, p.Collection, p.ID)
}

// Validate checks that every segment is present and contains no separator.
func (p Path) Validate() error {
	segments := []struct{ name, value string }{
		{"tenant", p.Tenant},
		{"collection", p.Collection},
		{"id", p.ID},
	}
	for _, seg := range segments {
		if seg.value == "" {
			return fmt.Errorf("%s is required", seg.name)
		}
		if strings.ContainsAny(seg.value, "/\\") || seg.value == "." || seg.value == ".." {
			return fmt.Errorf("invalid %s %q", seg.name, seg.value)
		}
	}
	return nil
}

// ParsePath parses a path produced by Path.String.
func ParsePath(s string) (Path, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 || parts[0] != "tenant" {
		return Path{}, fmt.Errorf("malformed document path %q", s)
	}
	p := Path{Tenant: parts[1], Collection: parts[2], ID: parts[3]}
	if err := p.Validate(); err != nil {
		return Path{}, fmt.Errorf("malformed document path %q: %w", s, err)
	}
	return p, nil
}

// RecordPath returns the path of a day record.
func RecordPath(tenant, key string) Path {
	return Path{Tenant: tenant, Collection: CollectionRecords, ID: key}
}

// MetaPath returns the path of a metadata document.
func MetaPath(tenant, id string) Path {
	return Path{Tenant: tenant, Collection: CollectionMeta, ID: id}
}
