package instance

import (
	"path/filepath"
	"regexp"
	"strings"
)

var nonSlugChar = regexp.MustCompile(`[^a-z0-9-]+`)

// RepoSlug turns a repository path into the filesystem-safe identifier used
// for its session file, lock file, and context directory.
func RepoSlug(repoPath string) string {
	base := filepath.Base(filepath.Clean(repoPath))
	slug := nonSlugChar.ReplaceAllString(strings.ToLower(base), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "repo"
	}
	return slug
}
