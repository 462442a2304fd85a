package sml

import (
	"fmt"
)

// parser decodes the TLV encoding of SML. Type is bits 6-4 of the first
// TL byte, bit 7 announces another TL byte carrying four more length bits.
type parser struct {
	b   []byte
	pos int
}

const maxDepth = 16

func (p *parser) node(depth int) (Node, error) {
	if depth > maxDepth {
		return Node{}, fmt.Errorf("%w: nesting deeper than %d at offset %d", ErrSyntax, maxDepth, p.pos)
	}
	if p.pos >= len(p.b) {
		return Node{}, fmt.Errorf("%w: unexpected end at offset %d", ErrSyntax, p.pos)
	}

	start := p.pos
	first := p.b[p.pos]
	if first == 0x00 {
		p.pos++
		return Node{Kind: KindEndOfMessage}, nil
	}

	typ := (first >> 4) & 0x07
	length := int(first & 0x0f)
	tl := 1
	for cur := first; cur&0x80 != 0; tl++ {
		if start+tl >= len(p.b) {
			return Node{}, fmt.Errorf("%w: truncated length at offset %d", ErrSyntax, start)
		}
		cur = p.b[start+tl]
		length = length<<4 | int(cur&0x0f)
	}
	p.pos += tl

	if typ == 0x7 {
		n := Node{Kind: KindList, List: make([]Node, 0, length)}
		for range length {
			child, err := p.node(depth + 1)
			if err != nil {
				return Node{}, err
			}
			n.List = append(n.List, child)
		}
		return n, nil
	}

	size := length - tl
	if size < 0 || p.pos+size > len(p.b) {
		return Node{}, fmt.Errorf("%w: bad length %d at offset %d", ErrSyntax, length, start)
	}
	content := p.b[p.pos : p.pos+size]
	p.pos += size

	switch typ {
	case 0x0:
		if size == 0 {
			return Node{Kind: KindNone}, nil
		}
		return Node{Kind: KindOctets, Bytes: content}, nil
	case 0x4:
		if size != 1 {
			return Node{}, fmt.Errorf("%w: bool of %d bytes at offset %d", ErrSyntax, size, start)
		}
		return Node{Kind: KindBool, Bytes: content, Uint: uint64(content[0])}, nil
	case 0x5, 0x6:
		if size == 0 || size > 8 {
			return Node{}, fmt.Errorf("%w: integer of %d bytes at offset %d", ErrSyntax, size, start)
		}
		var u uint64
		for _, c := range content {
			u = u<<8 | uint64(c)
		}
		if typ == 0x6 {
			return Node{Kind: KindUint, Bytes: content, Uint: u}, nil
		}
		// sign extend
		shift := uint(64 - 8*size)
		return Node{Kind: KindInt, Bytes: content, Int: int64(u<<shift) >> shift}, nil
	}
	return Node{}, fmt.Errorf("%w: unknown type 0x%x at offset %d", ErrSyntax, typ, start)
}

// ParseFile decodes the messages of an unframed payload.
func ParseFile(payload []byte) (File, error) {
	p := &parser{b: payload}
	var f File
	for p.pos < len(p.b) {
		// fill bytes between messages
		if p.b[p.pos] == 0x00 {
			p.pos++
			continue
		}
		n, err := p.node(0)
		if err != nil {
			return File{}, err
		}
		msg, err := messageOf(n)
		if err != nil {
			return File{}, err
		}
		f.Messages = append(f.Messages, msg)
	}
	return f, nil
}

func messageOf(n Node) (Message, error) {
	if n.Kind != KindList || len(n.List) != 6 {
		return Message{}, fmt.Errorf("%w: message is not a list of 6", ErrSyntax)
	}
	body := n.List[3]
	if body.Kind != KindList || len(body.List) != 2 || body.List[0].Kind != KindUint {
		return Message{}, fmt.Errorf("%w: malformed message body", ErrSyntax)
	}
	return Message{
		TransactionID: n.List[0].Bytes,
		GroupNo:       uint8(n.List[1].Uint),
		AbortOnError:  uint8(n.List[2].Uint),
		Tag:           MessageTag(body.List[0].Uint),
		Body:          body.List[1],
	}, nil
}
