// Package identity derives the stable user id under which a workspace's
// heads are shared.
package identity

import (
	"context"
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

// UnknownUser is used when neither config nor git names the user.
const UnknownUser = "unknown-local-user"

const digestChars = 8

// FromEmail derives "<local-part slug>-<8 hex of blake3(email)>". The email is
// trimmed and lowercased first, so the result is stable across spellings.
func FromEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(email))
	digest := hex.EncodeToString(sum[:])[:digestChars]

	local, _, _ := strings.Cut(email, "@")
	slug := slugify(local)
	if slug == "" {
		slug = "user"
	}
	return slug + "-" + digest
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// EmailSource reports the configured git email, "" when unset.
type EmailSource interface {
	UserEmail(ctx context.Context) (string, error)
}

// Resolve returns the configured id, else one derived from the git email,
// else UnknownUser.
func Resolve(ctx context.Context, configured string, src EmailSource) string {
	if id := strings.TrimSpace(configured); id != "" {
		return id
	}
	if src != nil {
		if email, err := src.UserEmail(ctx); err == nil {
			if id := FromEmail(email); id != "" {
				return id
			}
		}
	}
	return UnknownUser
}
