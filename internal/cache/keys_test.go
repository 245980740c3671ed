package cache

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeRepos(t *testing.T) {
	in := []string{"/b", "", "/a", "/b", "/c", "/a"}
	got := NormalizeRepos(in)

	if diff := cmp.Diff([]string{"/a", "/b", "/c"}, got); diff != "" {
		t.Errorf("NormalizeRepos() mismatch (-want +got):\n%s", diff)
	}
	if in[0] != "/b" || in[2] != "/a" {
		t.Error("NormalizeRepos modified its input")
	}
}

func TestPredicates(t *testing.T) {
	commits := NewCommitsKey("/j", "2024-01-05", []string{"/r"})
	buckets := NewBucketsKey("/j", []string{"/r"})
	otherFolder := NewCommitsKey("/k", "2024-01-05", []string{"/r"})
	content := ContentKey{Path: "/j/2024-01-05.md"}

	tests := []struct {
		name string
		pred Predicate
		key  Key
		want bool
	}{
		{"exact match", Exact(content), ContentKey{Path: "/j/2024-01-05.md"}, true},
		{"exact mismatch", Exact(content), ContentKey{Path: "/j/other.md"}, false},
		{"namespace", InNamespace(NamespaceCommits), commits, true},
		{"namespace mismatch", InNamespace(NamespaceCommits), content, false},
		{"folder commits", CommitsForFolder("/j"), commits, true},
		{"folder buckets", CommitsForFolder("/j"), buckets, true},
		{"other folder", CommitsForFolder("/j"), otherFolder, false},
		{"any", Any(Exact(content), InNamespace(NamespaceRepos)), ReposKey{Folder: "/j"}, true},
		{"any none", Any(), content, false},
		{"folder metadata", MetadataForFolder("/j"), MetadataKey{Folder: "/j", Structured: true}, true},
		{"metadata other folder", MetadataForFolder("/j"), MetadataKey{Folder: "/k"}, false},
		{"metadata kinds differ", Exact(MetadataKey{Folder: "/j"}), MetadataKey{Folder: "/j", Structured: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(tt.key); got != tt.want {
				t.Errorf("predicate(%s) = %v, want %v", tt.key.Namespace(), got, tt.want)
			}
		})
	}
}
