// Package types holds the plain data-model shared by every sync-engine package.
package types

import "time"

// FileStateKind is one of the three states a non-collection resource's cached
// body can be in.
type FileStateKind string

const (
	FileStateAbsent      FileStateKind = "absent"
	FileStateDownloading FileStateKind = "downloading"
	FileStatePresent     FileStateKind = "present"
)

// FileState describes the local body-cache status of a non-collection resource.
// LocalPath and StoredVersion are only meaningful when Kind is FileStatePresent.
type FileState struct {
	Kind          FileStateKind `json:"kind"`
	LocalPath     string        `json:"localPath,omitempty"`
	StoredVersion string        `json:"storedVersion,omitempty"`
}

// Path is an ordered sequence of non-empty path components. An empty Path
// denotes an account's root collection.
type Path []string

// ResourceID is the Store's primary key and the Transfer Layer's dispatch key.
type ResourceID struct {
	AccountID string `json:"accountId"`
	Path      Path   `json:"path"`
}

// Properties are the remote-supplied attributes of a resource, as parsed from
// a PROPFIND-style response. A nil *Properties passed to Store.Update means
// "delete this resource."
type Properties struct {
	IsCollection  bool       `json:"isCollection"`
	Version       string     `json:"version"`
	ContentType   *string    `json:"contentType,omitempty"`
	ContentLength *int64     `json:"contentLength,omitempty"`
	Modified      *time.Time `json:"modified,omitempty"`
}

// Resource is one node in an account's mirror tree.
type Resource struct {
	AccountID     string        `json:"accountId"`
	Path          Path          `json:"path"`
	IsCollection  bool          `json:"isCollection"`
	Version       string        `json:"version"`
	Dirty         bool          `json:"dirty"`
	Updated       time.Time     `json:"updated"`
	ContentType   *string       `json:"contentType,omitempty"`
	ContentLength *int64        `json:"contentLength,omitempty"`
	Modified      *time.Time    `json:"modified,omitempty"`
	FileState     FileState     `json:"fileState"`
}

// ChangeSet is the result of any property-tree mutation: two disjoint sets of
// resources. Every path mentioned appears in at most one of the two sets.
type ChangeSet struct {
	InsertedOrUpdated []Resource `json:"insertedOrUpdated"`
	Deleted           []Resource `json:"deleted"`
}

// Empty reports whether the change set has no entries in either set.
func (c ChangeSet) Empty() bool {
	return len(c.InsertedOrUpdated) == 0 && len(c.Deleted) == 0
}

// Merge appends other's entries onto c, in place.
func (c *ChangeSet) Merge(other ChangeSet) {
	c.InsertedOrUpdated = append(c.InsertedOrUpdated, other.InsertedOrUpdated...)
	c.Deleted = append(c.Deleted, other.Deleted...)
}

// Equal reports whether p and q have the same components in the same order.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Parent returns p without its last component, and whether p was non-empty.
func (p Path) Parent() (Path, bool) {
	if len(p) == 0 {
		return nil, false
	}
	return p[:len(p)-1], true
}

// Child returns a new path with name appended.
func (p Path) Child(name string) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = name
	return out
}

// Prefixes returns every non-empty proper prefix of p, shortest first, i.e.
// the sequence of ancestor paths.
func (p Path) Prefixes() []Path {
	out := make([]Path, 0, len(p))
	for i := 1; i < len(p); i++ {
		out = append(out, p[:i])
	}
	return out
}
