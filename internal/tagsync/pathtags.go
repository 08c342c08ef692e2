package tagsync

import "strings"

// PathDelimiter separates folder segments inside a path tag.
const PathDelimiter = "/"

// PathToTags encodes a folder path as the tag set carried by a remote item.
// Every synced item carries the sync tag itself; items below the root carry
// one additional path tag, syncTag + "/" + path. Root-level items ("" path)
// carry only the sync tag.
func PathToTags(syncTag, path string) []string {
	if path == "" {
		return []string{syncTag}
	}
	return []string{syncTag, syncTag + PathDelimiter + path}
}

// TagsToPath decodes the folder path from a remote item's tags. The longest
// tag prefixed with syncTag + "/" wins; ties keep the first one seen. Items
// without a path tag live at the root.
func TagsToPath(syncTag string, tags []string) string {
	prefix := syncTag + PathDelimiter
	best := ""
	found := false
	for _, tag := range tags {
		if !strings.HasPrefix(tag, prefix) {
			continue
		}
		path := strings.TrimPrefix(tag, prefix)
		if !found || len(path) > len(best) {
			best = path
			found = true
		}
	}
	return best
}

// SplitPath breaks a "/"-joined path into its segments. The empty path has
// no segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, PathDelimiter)
}

// JoinPath is the inverse of SplitPath.
func JoinPath(segments []string) string {
	return strings.Join(segments, PathDelimiter)
}
