package wire

import "bytes"

// node is one decoded element. Decoding is fully generic: unknown tags on a
// known page parse into nodes that the typed mappers simply never look at,
// which is what makes them non-fatal.
type node struct {
	page     byte
	tag      byte
	value    string
	children []*node
}

func (n *node) child(page, tag byte) *node {
	for _, c := range n.children {
		if c.page == page && c.tag == tag {
			return c
		}
	}
	return nil
}

func (n *node) childValue(page, tag byte) string {
	if c := n.child(page, tag); c != nil {
		return c.value
	}
	return ""
}

func (n *node) childrenOf(page, tag byte) []*node {
	var out []*node
	for _, c := range n.children {
		if c.page == page && c.tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// parse decodes a tag stream into its root element. Trailing bytes after the
// root closes are ignored; truncation inside an element is a CodecError.
func parse(op string, data []byte) (*node, error) {
	if len(data) < len(streamHeader) {
		return nil, codecErr(op, "short stream: %d bytes", len(data))
	}
	if data[0] != streamHeader[0] {
		return nil, codecErr(op, "unsupported stream version 0x%02x", data[0])
	}

	pos := len(streamHeader)
	var page byte
	var root *node
	var stack []*node

	for pos < len(data) {
		b := data[pos]
		pos++

		switch b {
		case codeSwitchPage:
			if pos >= len(data) {
				return nil, codecErr(op, "truncated page switch")
			}
			page = data[pos]
			pos++

		case codeEnd:
			if len(stack) == 0 {
				return nil, codecErr(op, "unbalanced end token")
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				// Root closed; anything after this is tolerated and ignored.
				return root, nil
			}

		case codeStrInline:
			if len(stack) == 0 {
				return nil, codecErr(op, "string outside element")
			}
			idx := bytes.IndexByte(data[pos:], 0x00)
			if idx < 0 {
				return nil, codecErr(op, "unterminated string")
			}
			stack[len(stack)-1].value = string(data[pos : pos+idx])
			pos += idx + 1

		default:
			if b&tagCodeMask < 0x05 {
				return nil, codecErr(op, "reserved token 0x%02x", b)
			}
			n := &node{page: page, tag: b & tagCodeMask}
			if root == nil {
				root = n
			} else if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else {
				return nil, codecErr(op, "multiple root elements")
			}
			if b&tagContentBit != 0 {
				stack = append(stack, n)
			} else if root == n {
				// Contentless root, nothing else to read.
				return root, nil
			}
		}
	}

	if len(stack) > 0 {
		return nil, codecErr(op, "truncated stream: %d open elements", len(stack))
	}
	if root == nil {
		return nil, codecErr(op, "empty stream")
	}
	return root, nil
}
