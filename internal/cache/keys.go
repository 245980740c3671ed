package cache

import (
	"sort"
	"strings"
)

// Key identifies one cache slot. Two keys with the same String() address the
// same slot regardless of how they were constructed.
type Key interface {
	// Namespace is the key family ("content", "commits", ...).
	Namespace() string

	// String is the canonical structural encoding of the key.
	String() string
}

// Namespaces of the built-in key types.
const (
	NamespaceContent  = "content"
	NamespaceMetadata = "metadata"
	NamespaceCommits  = "commits"
	NamespaceBuckets  = "buckets"
	NamespaceRepos    = "repos"
)

// keySep cannot appear in a path or a date key.
const keySep = "\x00"

func encode(parts ...string) string {
	return strings.Join(parts, keySep)
}

// ContentKey addresses the text content of one note file.
type ContentKey struct {
	Path string
}

func (k ContentKey) Namespace() string { return NamespaceContent }
func (k ContentKey) String() string    { return encode(NamespaceContent, k.Path) }

// MetadataKey addresses the metadata list of a journal folder: its dated
// notes, or its structured notes when Structured is set.
type MetadataKey struct {
	Folder     string
	Structured bool
}

func (k MetadataKey) Namespace() string { return NamespaceMetadata }
func (k MetadataKey) String() string {
	kind := "dated"
	if k.Structured {
		kind = "structured"
	}
	return encode(NamespaceMetadata, k.Folder, kind)
}

// CommitsKey addresses the commits of one calendar day for a folder and its
// connected repositories.
type CommitsKey struct {
	Folder  string
	DateKey string
	Repos   []string
}

// NewCommitsKey returns a CommitsKey with repos normalized.
func NewCommitsKey(folder, dateKey string, repos []string) CommitsKey {
	return CommitsKey{Folder: folder, DateKey: dateKey, Repos: NormalizeRepos(repos)}
}

func (k CommitsKey) Namespace() string { return NamespaceCommits }
func (k CommitsKey) String() string {
	return encode(NamespaceCommits, k.Folder, k.DateKey, encodeRepos(k.Repos))
}

// BucketsKey addresses the merged date buckets accumulated for a folder and
// repository set across every range fetched so far.
type BucketsKey struct {
	Folder string
	Repos  []string
}

// NewBucketsKey returns a BucketsKey with repos normalized.
func NewBucketsKey(folder string, repos []string) BucketsKey {
	return BucketsKey{Folder: folder, Repos: NormalizeRepos(repos)}
}

func (k BucketsKey) Namespace() string { return NamespaceBuckets }
func (k BucketsKey) String() string {
	return encode(NamespaceBuckets, k.Folder, encodeRepos(k.Repos))
}

// ReposKey addresses the list of repositories connected to a folder.
type ReposKey struct {
	Folder string
}

func (k ReposKey) Namespace() string { return NamespaceRepos }
func (k ReposKey) String() string    { return encode(NamespaceRepos, k.Folder) }

// NormalizeRepos returns a sorted copy of repos without duplicates or empty
// entries. The input is not modified.
func NormalizeRepos(repos []string) []string {
	out := make([]string, 0, len(repos))
	for _, r := range repos {
		if r != "" {
			out = append(out, r)
		}
	}
	sort.Strings(out)

	deduped := out[:0]
	for i, r := range out {
		if i == 0 || r != out[i-1] {
			deduped = append(deduped, r)
		}
	}
	return deduped
}

// encodeRepos joins the normalized repo set so that order and duplicates in
// the caller's slice never produce a distinct slot.
func encodeRepos(repos []string) string {
	return strings.Join(NormalizeRepos(repos), "\x01")
}

var describer = strings.NewReplacer(keySep, " ", "\x01", ",")

// Describe renders key for logs and error messages.
func Describe(key Key) string {
	return describer.Replace(key.String())
}

// Predicate selects keys for Invalidate.
type Predicate func(Key) bool

// Exact matches only key.
func Exact(key Key) Predicate {
	s := key.String()
	return func(k Key) bool { return k.String() == s }
}

// InNamespace matches every key of namespace ns.
func InNamespace(ns string) Predicate {
	return func(k Key) bool { return k.Namespace() == ns }
}

// Any matches if any of preds matches.
func Any(preds ...Predicate) Predicate {
	return func(k Key) bool {
		for _, p := range preds {
			if p(k) {
				return true
			}
		}
		return false
	}
}

// CommitsForFolder matches every commits and buckets key of folder.
func CommitsForFolder(folder string) Predicate {
	return func(k Key) bool {
		switch k := k.(type) {
		case CommitsKey:
			return k.Folder == folder
		case BucketsKey:
			return k.Folder == folder
		}
		return false
	}
}

// MetadataForFolder matches both metadata lists of folder.
func MetadataForFolder(folder string) Predicate {
	return func(k Key) bool {
		m, ok := k.(MetadataKey)
		return ok && m.Folder == folder
	}
}
