package fetch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/spaolacci/murmur3"

	serrors "github.com/shelfard/shelfard/internal/errors"
)

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9_]`)

// maxDerivedNameLength matches the registry's name limit.
const maxDerivedNameLength = 200

// SchemaNameFromURL derives a stable registry name from an endpoint URL:
// host and path joined by underscores, lowercased, with every other
// character replaced by an underscore.
//
//	https://api.example.com/users/1  ->  api_example_com_users_1
//
// Names longer than the registry limit are cut and suffixed with a hash of
// the full name, so distinct long URLs stay distinct.
func SchemaNameFromURL(rawURL string) string {
	var host, path string
	if u, err := url.Parse(rawURL); err == nil {
		host, path = u.Host, u.Path
	} else {
		path = rawURL
	}

	path = strings.ReplaceAll(strings.Trim(path, "/"), "/", "_")
	host = strings.NewReplacer(".", "_", ":", "_").Replace(host)

	raw := host
	if path != "" {
		raw = host + "_" + path
	}

	name := strings.Trim(unsafeNameChars.ReplaceAllString(strings.ToLower(raw), "_"), "_")
	if name == "" {
		return "schema"
	}
	if len(name) > maxDerivedNameLength {
		suffix := fmt.Sprintf("_%08x", murmur3.Sum32([]byte(name)))
		name = strings.TrimRight(name[:maxDerivedNameLength-len(suffix)], "_") + suffix
	}
	return name
}

// ParseHeaders parses KEY=VALUE pairs. Keys and values are trimmed; a later
// pair overrides an earlier one with the same key. An entry without "=" or
// with an empty key is rejected.
func ParseHeaders(pairs []string) (map[string]string, error) {
	headers := make(map[string]string, len(pairs))
	for _, item := range pairs {
		k, v, ok := strings.Cut(item, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, serrors.NewInvalidHeaderError(item)
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers, nil
}
