package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/text/language"

	"github.com/shibukawa/snapmongo"
)

// IndexKey is one field of an index key with its direction (1 or -1).
type IndexKey struct {
	Field     string
	Direction int
}

// IndexSpec is an index the table expects. Options holds every index option
// except the key, in the names the server reports them under.
type IndexSpec struct {
	Keys    []IndexKey
	Options bson.D
}

// KeyDocument returns the ordered key document.
func (s IndexSpec) KeyDocument() bson.D {
	doc := make(bson.D, len(s.Keys))
	for i, key := range s.Keys {
		doc[i] = bson.E{Key: key.Field, Value: int32(key.Direction)}
	}

	return doc
}

// Name returns the configured index name or the server default (f_1_g_-1).
func (s IndexSpec) Name() string {
	if name, ok := s.option("name").(string); ok && name != "" {
		return name
	}

	parts := make([]string, len(s.Keys))
	for i, key := range s.Keys {
		parts[i] = key.Field + "_" + strconv.Itoa(key.Direction)
	}

	return strings.Join(parts, "_")
}

// Document returns the index as the server would list it: key, name, v and
// every option that differs from its default.
func (s IndexSpec) Document() bson.D {
	doc := bson.D{
		{Key: "v", Value: int32(2)},
		{Key: "key", Value: s.KeyDocument()},
		{Key: "name", Value: s.Name()},
	}

	for _, opt := range s.Options {
		switch opt.Key {
		case "name":
			continue
		case "v":
			doc[0].Value = opt.Value
			continue
		case "unique", "background", "sparse", "hidden":
			if b, ok := opt.Value.(bool); ok && !b {
				continue
			}
		}

		doc = append(doc, opt)
	}

	return doc
}

func (s IndexSpec) option(name string) any {
	for _, opt := range s.Options {
		if opt.Key == name {
			return opt.Value
		}
	}

	return nil
}

func (s IndexSpec) String() string {
	return extJSON(s.Document())
}

// indexOptionAliases maps annotation option names onto listIndexes field names.
var indexOptionAliases = map[string]string{
	"version":       "v",
	"sphereVersion": "2dsphereIndexVersion",
}

const indexOptionSchema = `{
  "type": "object",
  "properties": {
    "unique": {"type": "boolean"},
    "background": {"type": "boolean"},
    "sparse": {"type": "boolean"},
    "hidden": {"type": "boolean"},
    "name": {"type": "string", "minLength": 1},
    "expireAfterSeconds": {"type": "integer", "minimum": 0},
    "version": {"type": "integer", "minimum": 0, "maximum": 2},
    "weights": {"type": "object", "additionalProperties": {"type": "integer", "minimum": 1}},
    "languageOverride": {"type": "string"},
    "defaultLanguage": {"type": "string"},
    "textVersion": {"type": "integer", "minimum": 1},
    "sphereVersion": {"type": "integer", "minimum": 1},
    "bits": {"type": "integer", "minimum": 1, "maximum": 32},
    "min": {"type": "number"},
    "max": {"type": "number"},
    "bucketSize": {"type": "number", "minimum": 0},
    "partialFilterExpression": {"type": "object"},
    "storageEngine": {"type": "object"},
    "collation": {
      "type": "object",
      "required": ["locale"],
      "properties": {
        "locale": {"type": "string"},
        "caseLevel": {"type": "boolean"},
        "caseFirst": {"enum": ["upper", "lower", "off"]},
        "strength": {"type": "integer", "minimum": 1, "maximum": 5},
        "numericOrdering": {"type": "boolean"},
        "alternate": {"enum": ["non-ignorable", "shifted"]},
        "maxVariable": {"enum": ["punct", "space"]},
        "normalization": {"type": "boolean"},
        "backwards": {"type": "boolean"}
      }
    }
  }
}`

var compiledIndexOptionSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(indexOptionSchema))
})

var indexElementPattern = regexp.MustCompile(`^([^:\s{}]+)(?::\s*(-?\d+))?$`)

// ExpectedIndexes derives the indexes a table needs: a unique ascending
// compound index over the primary key, then one index per annotation.
// Unknown option keys are logged and skipped; malformed ones are errors.
func ExpectedIndexes(def *snapmongo.TableDefinition, logger *slog.Logger) ([]IndexSpec, error) {
	if logger == nil {
		logger = slog.Default()
	}

	attributes := def.AttributeNames()

	var specs []IndexSpec

	if len(def.PrimaryKey) > 0 {
		spec := IndexSpec{Options: bson.D{{Key: "unique", Value: true}}}
		for _, field := range def.PrimaryKey {
			if !slices.Contains(attributes, field) {
				return nil, fmt.Errorf("%w: primary key '%s' is not an attribute of table '%s'", snapmongo.ErrUnknownAttribute, field, def.Name)
			}

			spec.Keys = append(spec.Keys, IndexKey{Field: field, Direction: 1})
		}

		specs = append(specs, spec)
	}

	for i, annotation := range def.Indexes {
		spec, err := parseIndexAnnotation(annotation, attributes, logger)
		if err != nil {
			return nil, fmt.Errorf("table '%s' index #%d: %w", def.Name, i, err)
		}

		specs = append(specs, spec)
	}

	return specs, nil
}

func parseIndexAnnotation(annotation snapmongo.IndexAnnotation, attributes []string, logger *slog.Logger) (IndexSpec, error) {
	var spec IndexSpec

	elements := annotation.KeyElements()
	if len(elements) == 0 {
		return spec, fmt.Errorf("%w: no index fields", snapmongo.ErrInvalidIndexAnnotation)
	}

	for _, element := range elements {
		match := indexElementPattern.FindStringSubmatch(strings.TrimSpace(element))
		if match == nil {
			return spec, fmt.Errorf("%w: '%s' is not field[:1|-1]", snapmongo.ErrInvalidIndexAnnotation, element)
		}

		field, direction := match[1], 1
		if match[2] != "" {
			direction, _ = strconv.Atoi(match[2])
			if direction != 1 && direction != -1 {
				return spec, fmt.Errorf("%w: '%s' sort order must be 1 or -1", snapmongo.ErrInvalidIndexAnnotation, element)
			}
		}

		if !slices.Contains(attributes, field) {
			return spec, fmt.Errorf("%w: index field '%s'", snapmongo.ErrUnknownAttribute, field)
		}

		if slices.ContainsFunc(spec.Keys, func(k IndexKey) bool { return k.Field == field }) {
			return spec, fmt.Errorf("%w: field '%s' listed twice", snapmongo.ErrInvalidIndexAnnotation, field)
		}

		spec.Keys = append(spec.Keys, IndexKey{Field: field, Direction: direction})
	}

	if doc, ok := annotation.OptionDocument(); ok {
		options, err := parseIndexOptions(doc, logger)
		if err != nil {
			return spec, err
		}

		spec.Options = options
	}

	return spec, nil
}

// parseIndexOptions validates an option document and returns it in server
// field names with integers narrowed to int32.
func parseIndexOptions(text string, logger *slog.Logger) (bson.D, error) {
	var generic map[string]any
	if err := json.Unmarshal([]byte(text), &generic); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", snapmongo.ErrMalformedIndexOption, text, err)
	}

	schema, err := compiledIndexOptionSchema()
	if err != nil {
		return nil, fmt.Errorf("index option schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(generic))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", snapmongo.ErrMalformedIndexOption, err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", snapmongo.ErrMalformedIndexOption, strings.Join(errs, "; "))
	}

	var ordered bson.D
	if err := bson.UnmarshalExtJSON([]byte(text), false, &ordered); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", snapmongo.ErrMalformedIndexOption, text, err)
	}

	options := make(bson.D, 0, len(ordered))
	for _, opt := range ordered {
		if _, known := indexOptionProperties[opt.Key]; !known {
			logger.Warn("unknown index option ignored", slog.String("option", opt.Key), slog.String("document", text))
			continue
		}

		if opt.Key == "collation" {
			collation, err := normalizeCollation(opt.Value, text, logger)
			if err != nil {
				return nil, err
			}

			opt.Value = collation
		}

		if alias, ok := indexOptionAliases[opt.Key]; ok {
			opt.Key = alias
		}

		opt.Value = narrowInteger(opt.Value)
		options = append(options, opt)
	}

	return options, nil
}

var indexOptionProperties = map[string]struct{}{
	"unique": {}, "background": {}, "sparse": {}, "hidden": {}, "name": {},
	"expireAfterSeconds": {}, "version": {}, "weights": {}, "languageOverride": {},
	"defaultLanguage": {}, "textVersion": {}, "sphereVersion": {}, "bits": {},
	"min": {}, "max": {}, "bucketSize": {}, "partialFilterExpression": {},
	"storageEngine": {}, "collation": {},
}

var collationProperties = []string{
	"locale", "caseLevel", "caseFirst", "strength", "numericOrdering",
	"alternate", "maxVariable", "normalization", "backwards",
}

func normalizeCollation(value any, text string, logger *slog.Logger) (bson.D, error) {
	doc, ok := value.(bson.D)
	if !ok {
		return nil, fmt.Errorf("%w: collation must be a document", snapmongo.ErrMalformedIndexOption)
	}

	collation := make(bson.D, 0, len(doc))
	for _, elem := range doc {
		if !slices.Contains(collationProperties, elem.Key) {
			logger.Warn("unknown collation option ignored", slog.String("option", elem.Key), slog.String("document", text))
			continue
		}

		if elem.Key == "locale" {
			locale, _ := elem.Value.(string)
			if locale != "simple" {
				if _, err := language.Parse(locale); err != nil {
					return nil, fmt.Errorf("%w: collation locale '%s': %w", snapmongo.ErrMalformedIndexOption, locale, err)
				}
			}
		}

		elem.Value = narrowInteger(elem.Value)
		collation = append(collation, elem)
	}

	return collation, nil
}

// narrowInteger turns the int64 Extended JSON produces for small integers into int32.
func narrowInteger(v any) any {
	if n, ok := v.(int64); ok && n >= -1<<31 && n < 1<<31 {
		return int32(n)
	}

	return v
}
