package compiler

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/shibukawa/snapmongo"
)

// tokenPrefix starts every placeholder token. Literal text is always emitted
// through encoding/json, which escapes '<' as \u003c, so the prefix can only
// appear in a template where a placeholder was written.
const tokenPrefix = "<ph:"

// Placeholder describes the runtime value a token stands for.
type Placeholder struct {
	Attribute string                  `json:"attribute"`
	Type      snapmongo.AttributeType `json:"type"`
}

// PlaceholderMap maps each token occurring in a template to its descriptor.
type PlaceholderMap map[string]Placeholder

// Tokens returns the tokens in a stable order.
func (m PlaceholderMap) Tokens() []string {
	return slices.Sorted(maps.Keys(m))
}

// Attributes returns the distinct runtime attribute names the map needs, sorted.
func (m PlaceholderMap) Attributes() []string {
	seen := make(map[string]bool, len(m))
	for _, p := range m {
		seen[p.Attribute] = true
	}

	return slices.Sorted(maps.Keys(seen))
}

// namespace hands out tokens for one compiled artifact. The nonce keeps
// tokens of unrelated artifacts apart; the closing '>' keeps "<ph:n:1>" from
// being a prefix of "<ph:n:10>".
type namespace struct {
	nonce string
	next  int
}

func newNamespace() *namespace {
	return &namespace{nonce: strings.ReplaceAll(uuid.NewString(), "-", "")}
}

func (n *namespace) token() string {
	n.next++
	return fmt.Sprintf("%s%s:%d>", tokenPrefix, n.nonce, n.next)
}
