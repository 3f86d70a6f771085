// Package sharing resolves share links into owner or guest views of a list
// and decides what each viewer may see and do.
package sharing

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultSharePath is the path of generated share links.
const DefaultSharePath = "/partage"

// ParseLink extracts the list id from a share link. Any scheme and host are
// accepted as long as the query carries a non-blank id. ok is false when
// there is nothing to open.
func ParseLink(raw string) (id string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "", false
	}

	id = strings.TrimSpace(u.Query().Get("id"))
	if id == "" {
		return "", false
	}

	return id, true
}

// Link builds the https share link of listID on domain.
func Link(domain, listID string) string {
	u := url.URL{
		Scheme:   "https",
		Host:     domain,
		Path:     DefaultSharePath,
		RawQuery: url.Values{"id": {listID}}.Encode(),
	}
	return u.String()
}

// ShareMessage is the text sent along with a share link.
func ShareMessage(title, link string) string {
	return fmt.Sprintf("My wish list %q!\nInstall the app, then open:\n%s", title, link)
}
