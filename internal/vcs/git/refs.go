package git

import (
	"context"
	"sort"
	"strings"
)

// mainBranchNames are the branch names treated as a repository's mainline.
var mainBranchNames = map[string]bool{
	"main":           true,
	"master":         true,
	"origin/main":    true,
	"origin/master":  true,
	"develop":        true,
	"origin/develop": true,
}

// maxFeatureLabels is how many feature branches are shown for a commit
// that is not on a mainline branch.
const maxFeatureLabels = 2

// BranchesContaining returns the local and remote branches whose history
// contains sha. Remote names keep their remote prefix (origin/main).
func (g *Git) BranchesContaining(ctx context.Context, sha string) (local, remote []string, err error) {
	output, err := g.Exec(ctx, "for-each-ref", "--contains", sha,
		"--format=%(refname)", "refs/heads", "refs/remotes")
	if err != nil {
		return nil, nil, err
	}

	for _, ref := range strings.Split(string(output), "\n") {
		ref = strings.TrimSpace(ref)
		switch {
		case ref == "":
			continue
		case strings.HasPrefix(ref, "refs/heads/"):
			local = append(local, strings.TrimPrefix(ref, "refs/heads/"))
		case strings.HasPrefix(ref, "refs/remotes/"):
			name := strings.TrimPrefix(ref, "refs/remotes/")
			if strings.HasSuffix(name, "/HEAD") {
				continue
			}
			remote = append(remote, name)
		}
	}

	return local, remote, nil
}

// LabelBranches reduces the branches containing a commit to the labels shown
// next to it: the mainline branch when there is one (main, then master, then
// develop), otherwise up to two feature branches, otherwise "unknown".
// onRemote reports whether any remote branch contains the commit.
func LabelBranches(local, remote []string) (labels []string, onRemote bool) {
	seen := make(map[string]bool)
	mains := make(map[string]bool)
	var features []string

	for _, name := range local {
		seen[name] = true
		if mainBranchNames[name] {
			mains[normalizeBranchName(name)] = true
		} else {
			features = append(features, name)
		}
	}

	for _, name := range remote {
		onRemote = true

		normalized := normalizeBranchName(name)
		if seen[normalized] {
			continue
		}
		seen[name] = true
		if mainBranchNames[name] {
			mains[normalized] = true
		} else if len(features) < maxFeatureLabels+1 {
			features = append(features, name)
		}
	}

	if len(mains) > 0 {
		for _, preferred := range []string{"main", "master", "develop"} {
			if mains[preferred] {
				return []string{preferred}, onRemote
			}
		}
		names := make([]string, 0, len(mains))
		for name := range mains {
			names = append(names, name)
		}
		sort.Strings(names)
		return names[:1], onRemote
	}

	if len(features) > maxFeatureLabels {
		features = features[:maxFeatureLabels]
	}
	if len(features) == 0 {
		return []string{"unknown"}, onRemote
	}
	return features, onRemote
}

func normalizeBranchName(name string) string {
	name = strings.ReplaceAll(name, "origin/", "")
	return strings.ReplaceAll(name, "refs/heads/", "")
}
