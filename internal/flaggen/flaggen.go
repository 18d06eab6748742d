// Package flaggen produces the per-instance secret flags. Flags are
// injected into a running container after start, never baked into the
// image, so a single challenge image serves every team with a distinct
// secret.
package flaggen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 16

type Generator struct {
	prefix string
}

func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// Flag returns a fresh flag of the form prefix{token} where token is a
// 128-bit hex string from crypto/rand.
func (g *Generator) Flag() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return g.prefix + "{" + hex.EncodeToString(buf) + "}", nil
}
