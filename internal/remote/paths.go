package remote

import "strings"

// ToUnixPath turns Windows separators into forward slashes.
func ToUnixPath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
