package compiler

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/shibukawa/snapmongo"
)

// Resolve binds params (runtime attribute name to value) into a compiled
// condition and returns the concrete filter document. MatchAll resolves to an
// empty filter regardless of params.
func Resolve(c *CompiledCondition, params map[string]any) (bson.D, error) {
	if c == nil || c.IsMatchAll() {
		return bson.D{}, nil
	}

	return resolveDocument(c.template, c.placeholders, params)
}

// ResolveSet binds params into an update set clause.
func ResolveSet(u *CompiledUpdateSet, params map[string]any) (bson.D, error) {
	return resolveDocument(u.template, u.placeholders, params)
}

// ResolveProjection binds params into a selection's projection document.
func ResolveProjection(s *CompiledSelection, params map[string]any) (bson.D, error) {
	return resolveDocument(s.projection, s.placeholders, params)
}

// Substitute returns the template text with every placeholder replaced.
func Substitute(template string, placeholders PlaceholderMap, params map[string]any) (string, error) {
	text := template

	for _, token := range placeholders.Tokens() {
		p := placeholders[token]

		value, ok := params[p.Attribute]
		if !ok {
			return "", fmt.Errorf("%w: '%s'", snapmongo.ErrMissingParameter, p.Attribute)
		}

		rendered, err := renderValue(value, p.Type)
		if err != nil {
			return "", fmt.Errorf("parameter '%s': %w", p.Attribute, err)
		}

		text = strings.ReplaceAll(text, token, rendered)
	}

	if i := strings.Index(text, tokenPrefix); i >= 0 {
		end := strings.IndexByte(text[i:], '>')
		if end < 0 {
			end = len(text) - i - 1
		}

		return "", fmt.Errorf("%w: %s", snapmongo.ErrUnresolvedPlaceholder, text[i:i+end+1])
	}

	return text, nil
}

func resolveDocument(template string, placeholders PlaceholderMap, params map[string]any) (bson.D, error) {
	text, err := Substitute(template, placeholders, params)
	if err != nil {
		return nil, err
	}

	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(text), false, &doc); err != nil {
		return nil, fmt.Errorf("%w: resolved template is not a document: %w", snapmongo.ErrUnresolvedPlaceholder, err)
	}

	return doc, nil
}
