// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package cot

import (
	"sort"

	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

// Special keys recognised inside custom_cot_attributes maps.
const (
	customAttributesKey = "_attributes"
	customTextKey       = "_text"
)

// Protected names that custom attributes can never override. Attempts are
// dropped with a warning.
var (
	protectedEventAttrs = map[string]bool{
		"version": true, "uid": true, "type": true,
		"time": true, "start": true, "stale": true, "how": true,
	}
	protectedDetailChildren = map[string]bool{
		"contact": true, "uid": true, "precisionlocation": true,
		"__group": true, "status": true, "track": true,
	}
)

// customNode is the parsed, validated form of one custom extension element.
type customNode struct {
	attrs    []xmlAttr
	text     string
	children []customChild
}

type customChild struct {
	name string
	node *customNode
}

func (n *customNode) empty() bool {
	return n.text == "" && len(n.children) == 0
}

// asStringMap coerces the map shapes produced by yaml and JSON decoding.
func asStringMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	case map[string]string:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// parseCustomNode interprets one custom map: _attributes, _text, then child
// elements recursively. Invalid names and non-map shapes are dropped with a
// warning. The protected sets apply to this node only, never to grandchildren.
func parseCustomNode(uid string, element string, v interface{}, protectedAttrs, protectedChildren map[string]bool) *customNode {
	node := &customNode{}
	m, ok := asStringMap(v)
	if !ok {
		// a bare scalar is plain text content
		node.text = attrValue(v)
		return node
	}
	for key, value := range m {
		switch key {
		case customAttributesKey:
			attrs, ok := asStringMap(value)
			if !ok {
				log.Warnf("Custom attributes of <%s> for %q must be a map, dropping", element, uid)
				continue
			}
			for name, raw := range attrs {
				if !validName(name) {
					log.Warnf("Dropping custom attribute %q on <%s> for %q: invalid name", name, element, uid)
					continue
				}
				if protectedAttrs[name] {
					log.Warnf("Dropping custom attribute %q on <%s> for %q: protected", name, element, uid)
					continue
				}
				node.attrs = append(node.attrs, xmlAttr{name: name, value: attrValue(raw)})
			}
		case customTextKey:
			node.text = attrValue(value)
		default:
			if !validName(key) {
				log.Warnf("Dropping custom element %q under <%s> for %q: invalid name", key, element, uid)
				continue
			}
			if protectedChildren[key] {
				log.Warnf("Dropping custom element %q under <%s> for %q: protected", key, element, uid)
				continue
			}
			node.children = append(node.children, customChild{
				name: key,
				node: parseCustomNode(uid, key, value, nil, nil),
			})
		}
	}
	sort.Slice(node.attrs, func(i, j int) bool { return node.attrs[i].name < node.attrs[j].name })
	sort.Slice(node.children, func(i, j int) bool { return node.children[i].name < node.children[j].name })
	return node
}

// renderInto writes the text and children of the node into an already-open
// element.
func (n *customNode) renderInto(b *xmlBuilder) {
	if n.text != "" {
		b.text(n.text)
	}
	for _, child := range n.children {
		child.render(b)
	}
}

func (c customChild) render(b *xmlBuilder) {
	if c.node.empty() {
		b.selfClose(c.name, c.node.attrs...)
		return
	}
	b.open(c.name, c.node.attrs...)
	c.node.renderInto(b)
	b.close(c.name)
}
