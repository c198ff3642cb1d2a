// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"os"
	"strings"
	"sync"

	"github.com/sam-fredrickson/treemerge"
)

// Tag names understood by [DefaultTags].
const (
	VaultTagName = "!vault"
	EnvTagName   = "!env"
)

// TagFunc builds the value of a scalar carrying a local tag from its text.
type TagFunc func(raw string) (treemerge.Value, error)

// LookupFunc looks up an environment variable, like [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// Decrypter turns an encrypted vault payload into plain text.
type Decrypter interface {
	// Available reports whether decryption can be attempted at all.
	Available() bool
	// Decrypt returns the plain text of payload.
	Decrypt(payload string) (string, error)
}

// EnvTag resolves "!env NAME" to the value of NAME when the scalar is
// rendered. Unset variables render as the empty string. A nil lookup uses
// [os.LookupEnv].
func EnvTag(lookup LookupFunc) TagFunc {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return func(raw string) (treemerge.Value, error) {
		name := strings.TrimSpace(raw)
		return treemerge.Deferred(EnvTagName, name, func() (string, error) {
			v, _ := lookup(name)
			return v, nil
		}), nil
	}
}

// VaultTag decrypts "!vault" payloads with d when the scalar is first
// rendered, never at parse time. If d is nil or not available the value
// renders as the empty string. Decryption failures surface as
// [treemerge.ErrRender] from whatever rendered the value. Availability is
// asked of d at most once per returned TagFunc.
func VaultTag(d Decrypter) TagFunc {
	available := sync.OnceValue(func() bool {
		return d != nil && d.Available()
	})
	return func(raw string) (treemerge.Value, error) {
		return treemerge.Deferred(VaultTagName, raw, func() (string, error) {
			if !available() {
				return "", nil
			}
			return d.Decrypt(raw)
		}), nil
	}
}

// DefaultTags returns the "!env" and "!vault" handlers.
func DefaultTags(lookup LookupFunc, d Decrypter) map[string]TagFunc {
	return map[string]TagFunc{
		EnvTagName:   EnvTag(lookup),
		VaultTagName: VaultTag(d),
	}
}
