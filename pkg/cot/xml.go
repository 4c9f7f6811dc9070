// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package cot

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// nameRe is the accepted shape of custom element and attribute names. Names
// outside of it are dropped, which keeps entity references, processing
// instructions and quote breakouts impossible to smuggle in.
var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]*$`)

// typeRe is the accepted shape of a CoT type string, such as "a-f-G-U-C".
var typeRe = regexp.MustCompile(`^[A-Za-z0-9]+(-[A-Za-z0-9]+)*$`)

// unknownField is the CoT placeholder for hae/ce/le when no altitude or
// accuracy is known.
const unknownField = "9999999.0"

// timeLayout serialises instants as ISO-8601 with millisecond precision.
const timeLayout = "2006-01-02T15:04:05.000Z"

func validName(name string) bool {
	return nameRe.MatchString(name)
}

func validCotType(t string) bool {
	return typeRe.MatchString(t)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// formatFloat renders a coordinate or rate with the fewest digits that
// round-trip, always keeping a decimal point: 9.055 stays "9.055", 315 becomes
// "315.0".
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

type xmlAttr struct {
	name  string
	value string
}

// xmlBuilder assembles one event document. Elements are written in a fixed
// order and custom keys are sorted, so identical inputs yield identical bytes.
type xmlBuilder struct {
	buf bytes.Buffer
}

func (b *xmlBuilder) writeEscaped(s string) {
	// xml.EscapeText escapes quotes too, so it is safe inside attribute values
	_ = xml.EscapeText(&b.buf, []byte(s))
}

func (b *xmlBuilder) writeAttrs(attrs []xmlAttr) {
	for _, a := range attrs {
		b.buf.WriteByte(' ')
		b.buf.WriteString(a.name)
		b.buf.WriteString(`="`)
		b.writeEscaped(a.value)
		b.buf.WriteByte('"')
	}
}

func (b *xmlBuilder) open(name string, attrs ...xmlAttr) {
	b.buf.WriteByte('<')
	b.buf.WriteString(name)
	b.writeAttrs(attrs)
	b.buf.WriteByte('>')
}

func (b *xmlBuilder) selfClose(name string, attrs ...xmlAttr) {
	b.buf.WriteByte('<')
	b.buf.WriteString(name)
	b.writeAttrs(attrs)
	b.buf.WriteString("/>")
}

func (b *xmlBuilder) close(name string) {
	b.buf.WriteString("</")
	b.buf.WriteString(name)
	b.buf.WriteByte('>')
}

func (b *xmlBuilder) text(s string) {
	b.writeEscaped(s)
}

// bytesNullTerminated returns the document with the CoT TCP framing
// terminator appended.
func (b *xmlBuilder) bytesNullTerminated() []byte {
	b.buf.WriteByte(0x00)
	return b.buf.Bytes()
}

// attrValue renders a custom attribute or text value.
func attrValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return formatFloat(s)
	case float32:
		return formatFloat(float64(s))
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
