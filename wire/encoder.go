package wire

import (
	"bytes"
	"sort"
)

// encoder writes the compact tag stream. Page switches are emitted only when
// the page actually changes and values are written in a fixed order, so the
// same command always encodes to the same, smallest byte sequence.
type encoder struct {
	buf  bytes.Buffer
	page byte
}

func newEncoder() *encoder {
	e := &encoder{}
	e.buf.Write(streamHeader)
	return e
}

func (e *encoder) switchPage(page byte) {
	if e.page == page {
		return
	}
	e.buf.WriteByte(codeSwitchPage)
	e.buf.WriteByte(page)
	e.page = page
}

// open starts an element that has content; it must be balanced by end.
func (e *encoder) open(page, tag byte) {
	e.switchPage(page)
	e.buf.WriteByte(tag | tagContentBit)
}

// empty writes a contentless element. An element with an empty value is
// encoded this way rather than as an empty inline string.
func (e *encoder) empty(page, tag byte) {
	e.switchPage(page)
	e.buf.WriteByte(tag)
}

func (e *encoder) end() {
	e.buf.WriteByte(codeEnd)
}

func (e *encoder) str(s string) {
	e.buf.WriteByte(codeStrInline)
	e.buf.WriteString(s)
	e.buf.WriteByte(0x00)
}

// value writes a leaf element holding a single string.
func (e *encoder) value(page, tag byte, s string) {
	if s == "" {
		e.empty(page, tag)
		return
	}
	e.open(page, tag)
	e.str(s)
	e.end()
}

// fields writes the known fields of an item class in sorted key order.
// Unknown keys are dropped: they have no tag on the class page.
func (e *encoder) fields(page byte, values map[string]interface{}) {
	tags := fieldTags[page]
	keys := make([]string, 0, len(values))
	for k := range values {
		if _, ok := tags[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		s, _ := values[k].(string)
		e.value(page, tags[k], s)
	}
}

func (e *encoder) bytes() []byte {
	return e.buf.Bytes()
}
