package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/querybridge/querybridge/internal/storage"
)

type Kind int

const (
	KindScalar Kind = iota
	KindMapping
	KindSequence
)

type ScalarType int

const (
	ScalarString ScalarType = iota
	ScalarNumber
	ScalarBool
	ScalarNull
)

// Node is one position of the schema tree. Mapping fields keep the order
// they had in the source document.
type Node struct {
	Kind   Kind
	Type   ScalarType
	Value  string
	Fields []Field
	Items  []Node
}

type Field struct {
	Key   string
	Value Node
}

func (n Node) Lookup(key string) (Node, bool) {
	for _, field := range n.Fields {
		if field.Key == key {
			return field.Value, true
		}
	}
	return Node{}, false
}

// Description is the parsed schema. It is never mutated after Parse.
type Description struct {
	root Node
}

func (d Description) Root() Node {
	return d.root
}

// Collections lists collection names: the keys (or "name" entries) under a
// top-level "collections" node when present, otherwise the top-level keys.
func (d Description) Collections() []string {
	container := d.root
	if nested, ok := d.root.Lookup("collections"); ok {
		container = nested
	}

	var names []string
	switch container.Kind {
	case KindMapping:
		for _, field := range container.Fields {
			names = append(names, field.Key)
		}
	case KindSequence:
		for _, item := range container.Items {
			if name, ok := item.Lookup("name"); ok && name.Kind == KindScalar && name.Value != "" {
				names = append(names, name.Value)
			}
		}
	}
	return names
}

type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load schema %q: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ObjectReader fetches a schema document from object storage.
type ObjectReader = storage.DocumentReader

// ObjectSource opens a reader for the named bucket.
type ObjectSource func(ctx context.Context, bucket string) (ObjectReader, error)

// Load reads the schema from source, which is either a local path or an
// s3://bucket/key URL resolved through objects.
func Load(ctx context.Context, source string, objects ObjectSource) (Description, error) {
	if !storage.IsObjectURI(source) {
		return LoadFile(strings.TrimSpace(source))
	}
	location, err := storage.ParseObjectURI(source)
	if err != nil {
		return Description{}, &LoadError{Source: source, Err: err}
	}
	if objects == nil {
		return Description{}, &LoadError{Source: source, Err: errors.New("object store is not configured")}
	}
	reader, err := objects(ctx, location.Bucket)
	if err != nil {
		return Description{}, &LoadError{Source: source, Err: err}
	}
	return LoadObject(ctx, reader, location.Key)
}

// LoadFile reads and parses a schema document from the local filesystem.
func LoadFile(path string) (Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Description{}, &LoadError{Source: path, Err: err}
	}
	desc, err := Parse(data)
	if err != nil {
		return Description{}, &LoadError{Source: path, Err: err}
	}
	return desc, nil
}

// LoadObject reads and parses a schema document from object storage.
func LoadObject(ctx context.Context, objects ObjectReader, key string) (Description, error) {
	source := "object:" + key
	if objects == nil {
		return Description{}, &LoadError{Source: source, Err: errors.New("object store is not configured")}
	}
	data, err := objects.ReadDocument(ctx, key)
	if err != nil {
		return Description{}, &LoadError{Source: source, Err: err}
	}
	desc, err := Parse(data)
	if err != nil {
		return Description{}, &LoadError{Source: source, Err: err}
	}
	return desc, nil
}

// Parse accepts a JSON or YAML document whose root is a mapping.
func Parse(data []byte) (Description, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Description{}, errors.New("schema document is empty")
	}

	var root Node
	var err error
	if trimmed[0] == '{' || trimmed[0] == '[' {
		root, err = parseJSON(trimmed)
	} else {
		root, err = parseYAML(trimmed)
	}
	if err != nil {
		return Description{}, err
	}
	if root.Kind != KindMapping {
		return Description{}, errors.New("schema root must be an object")
	}
	if len(root.Fields) == 0 {
		return Description{}, errors.New("schema declares no collections")
	}
	return Description{root: root}, nil
}

func parseJSON(data []byte) (Node, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	node, err := decodeJSONValue(decoder)
	if err != nil {
		return Node{}, fmt.Errorf("parse json schema: %w", err)
	}
	if _, err := decoder.Token(); err != io.EOF {
		return Node{}, errors.New("parse json schema: trailing data after document")
	}
	return node, nil
}

func decodeJSONValue(decoder *json.Decoder) (Node, error) {
	token, err := decoder.Token()
	if err != nil {
		return Node{}, err
	}
	switch value := token.(type) {
	case json.Delim:
		switch value {
		case '{':
			node := Node{Kind: KindMapping}
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return Node{}, err
				}
				key, ok := keyToken.(string)
				if !ok {
					return Node{}, fmt.Errorf("unexpected object key %v", keyToken)
				}
				child, err := decodeJSONValue(decoder)
				if err != nil {
					return Node{}, err
				}
				node.Fields = append(node.Fields, Field{Key: key, Value: child})
			}
			if _, err := decoder.Token(); err != nil {
				return Node{}, err
			}
			return node, nil
		case '[':
			node := Node{Kind: KindSequence}
			for decoder.More() {
				child, err := decodeJSONValue(decoder)
				if err != nil {
					return Node{}, err
				}
				node.Items = append(node.Items, child)
			}
			if _, err := decoder.Token(); err != nil {
				return Node{}, err
			}
			return node, nil
		default:
			return Node{}, fmt.Errorf("unexpected delimiter %q", value)
		}
	case string:
		return Node{Kind: KindScalar, Type: ScalarString, Value: value}, nil
	case json.Number:
		return Node{Kind: KindScalar, Type: ScalarNumber, Value: value.String()}, nil
	case bool:
		if value {
			return Node{Kind: KindScalar, Type: ScalarBool, Value: "true"}, nil
		}
		return Node{Kind: KindScalar, Type: ScalarBool, Value: "false"}, nil
	case nil:
		return Node{Kind: KindScalar, Type: ScalarNull, Value: "null"}, nil
	default:
		return Node{}, fmt.Errorf("unexpected token %v", token)
	}
}

func parseYAML(data []byte) (Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Node{}, fmt.Errorf("parse yaml schema: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return Node{}, errors.New("parse yaml schema: no document")
	}
	return convertYAML(doc.Content[0], 0)
}

const maxYAMLDepth = 64

func convertYAML(n *yaml.Node, depth int) (Node, error) {
	if depth > maxYAMLDepth {
		return Node{}, errors.New("parse yaml schema: nesting too deep")
	}
	switch n.Kind {
	case yaml.AliasNode:
		return convertYAML(n.Alias, depth+1)
	case yaml.MappingNode:
		node := Node{Kind: KindMapping}
		for i := 0; i+1 < len(n.Content); i += 2 {
			child, err := convertYAML(n.Content[i+1], depth+1)
			if err != nil {
				return Node{}, err
			}
			node.Fields = append(node.Fields, Field{Key: n.Content[i].Value, Value: child})
		}
		return node, nil
	case yaml.SequenceNode:
		node := Node{Kind: KindSequence}
		for _, item := range n.Content {
			child, err := convertYAML(item, depth+1)
			if err != nil {
				return Node{}, err
			}
			node.Items = append(node.Items, child)
		}
		return node, nil
	case yaml.ScalarNode:
		node := Node{Kind: KindScalar, Type: ScalarString, Value: n.Value}
		switch n.ShortTag() {
		case "!!int", "!!float":
			node.Type = ScalarNumber
		case "!!bool":
			node.Type = ScalarBool
			node.Value = strings.ToLower(n.Value)
		case "!!null":
			node.Type = ScalarNull
			node.Value = "null"
		}
		return node, nil
	default:
		return Node{}, fmt.Errorf("parse yaml schema: unsupported node kind %d", n.Kind)
	}
}
