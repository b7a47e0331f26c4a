// Package pathutil resolves filesystem paths against a configured mount
// prefix without touching the filesystem. Resolution is pure string
// manipulation: no stat, no symlink following (the daemon resolves
// symlinks itself, if it supports them at all).
package pathutil

import "strings"

// Resolve joins input with cwd if input is relative, collapses "." and
// ".." segments, and tests the canonical result against mountPrefix.
//
// If the canonical path is mountPrefix itself or descends from it, inside
// is true and canonical is the path with the prefix stripped, always
// beginning with "/". Otherwise inside is false and canonical is the full
// canonicalized path, unmodified.
//
// Trailing slashes are preserved iff the input (after joining) ends with
// one. Empty input resolves to "/" inside the mount.
func Resolve(input, cwd, mountPrefix string) (inside bool, canonical string) {
	mountPrefix = strings.TrimSuffix(mountPrefix, "/")

	if input == "" {
		return true, "/"
	}

	joined := input
	if !strings.HasPrefix(input, "/") {
		joined = cwd + "/" + input
	}

	hadTrailingSlash := strings.HasSuffix(joined, "/") && joined != "/"

	collapsed := collapse(joined)

	if hadTrailingSlash && collapsed != "/" {
		collapsed += "/"
	}

	if mountPrefix == "" {
		return true, stripPrefix(collapsed, "")
	}

	if collapsed == mountPrefix {
		return true, "/"
	}
	if strings.HasPrefix(collapsed, mountPrefix+"/") {
		return true, stripPrefix(collapsed, mountPrefix)
	}
	return false, collapsed
}

// stripPrefix removes prefix from p and guarantees the result begins with "/".
func stripPrefix(p, prefix string) string {
	rest := strings.TrimPrefix(p, prefix)
	if rest == "" {
		return "/"
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

// collapse resolves "." and ".." segments of an absolute path purely
// lexically, the way filepath.Clean does, but guarantees a leading "/"
// and never escapes above root (a leading ".." is simply dropped, as the
// path is already known to be absolute).
func collapse(p string) string {
	segments := strings.Split(p, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}

// InMount is a convenience wrapper returning only the membership test.
func InMount(input, cwd, mountPrefix string) bool {
	inside, _ := Resolve(input, cwd, mountPrefix)
	return inside
}
