package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"
)

const (
	keyGlobalSettings = "global_settings"
	keyDomains        = "domains"
	keyLastKnownIP    = "last_known_ip"
	keyCheckInterval  = "check_interval_seconds"
	keyIPServiceURL   = "public_ip_service_url"
	keyDomainName     = "domain_name"
	keyRecords        = "records"
	keyName           = "name"
	keyType           = "type"
	keyTTL            = "ttl"
)

// parseDocument decodes raw YAML into a document node. A nil node means the
// input held no document at all (empty file or only comments).
func parseDocument(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	if root := resolve(doc.Content[0]); root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return nil, nil
	}
	return &doc, nil
}

// emptyDocument returns {global_settings: {}, domains: []}.
func emptyDocument() *yaml.Node {
	return newDocument(nil)
}

func newDocument(domains []Domain) *yaml.Node {
	root := mappingNode()
	setValue(root, keyGlobalSettings, mappingNode())
	setValue(root, keyDomains, domainsNode(domains))
	return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
}

func encodeDocument(doc *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding configuration document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding configuration document: %w", err)
	}
	return buf.Bytes(), nil
}

func mappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func sequenceNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
}

// resolve follows aliases so anchors in hand-edited files behave like inline values.
func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func isMapping(n *yaml.Node) bool {
	n = resolve(n)
	return n != nil && n.Kind == yaml.MappingNode
}

func isSequence(n *yaml.Node) bool {
	n = resolve(n)
	return n != nil && n.Kind == yaml.SequenceNode
}

func isNull(n *yaml.Node) bool {
	n = resolve(n)
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// lookup returns the value stored under key in mapping m.
func lookup(m *yaml.Node, key string) (*yaml.Node, bool) {
	m = resolve(m)
	if m == nil || m.Kind != yaml.MappingNode {
		return nil, false
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1], true
		}
	}
	return nil, false
}

// setValue replaces the value under key, appending the pair when absent so
// existing key order is kept.
func setValue(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			value.LineComment = m.Content[i+1].LineComment
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

func setScalar(m *yaml.Node, key, tag, value string) {
	setValue(m, key, &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value})
}

// scalarString renders a scalar as text. Null yields "", non-scalars are rejected.
func scalarString(n *yaml.Node) (string, bool) {
	n = resolve(n)
	if isNull(n) {
		return "", true
	}
	if n.Kind != yaml.ScalarNode {
		return "", false
	}
	return n.Value, true
}

// display is used in log lines for offending values.
func display(n *yaml.Node) string {
	n = resolve(n)
	if n == nil {
		return "<nil>"
	}
	if n.Kind == yaml.ScalarNode {
		return n.Value
	}
	out, err := yaml.Marshal(n)
	if err != nil {
		return "<unprintable>"
	}
	return string(bytes.TrimSpace(out))
}
