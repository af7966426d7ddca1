package store

import (
	"encoding/json"
	"strings"

	"github.com/lucidfs/davsync/internal/types"
)

// pathSeparator delimits path components in the encoded key used for
// prefix queries against child and descendant rows. It is chosen from the
// C0 control range so it cannot appear in a WebDAV path component.
const pathSeparator = "\x1f"

// encodePathKey renders a path as a prefix-safe key: a leading and
// trailing separator with every component in between. Because the
// separator can never appear inside a component, pathKey(p) is a proper
// string prefix of pathKey(c) for every descendant c of p, and of no
// other resource's key.
func encodePathKey(p types.Path) string {
	if len(p) == 0 {
		return pathSeparator
	}
	return pathSeparator + strings.Join(p, pathSeparator) + pathSeparator
}

func encodePathJSON(p types.Path) (string, error) {
	if p == nil {
		p = types.Path{}
	}
	data, err := json.Marshal([]string(p))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodePathJSON(s string) (types.Path, error) {
	var comps []string
	if err := json.Unmarshal([]byte(s), &comps); err != nil {
		return nil, err
	}
	return types.Path(comps), nil
}

// likeEscape escapes '%', '_', and the escape character itself so a path
// key can be used as a literal LIKE prefix.
func likeEscape(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}
