package obs

import "strings"

// CanonicalPath collapses identifier segments so metric label cardinality
// stays bounded. Only known parameterized routes are rewritten; everything
// else passes through with the query string stripped.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) >= 3 && segments[0] == "v1" &&
		(segments[1] == "users" || segments[1] == "roles") {
		segments[2] = ":id"
		return "/" + strings.Join(segments, "/")
	}
	return path
}
