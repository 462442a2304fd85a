// Package sml decodes Smart Message Language files as pushed by German
// electricity meters (SML 1.04 transport v1).
package sml

import (
	"fmt"

	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

var (
	ErrFraming = fmt.Errorf("%w: sml framing", types.ErrInvalidFrame)
	ErrCRC     = fmt.Errorf("%w: sml crc mismatch", types.ErrInvalidFrame)
	ErrSyntax  = fmt.Errorf("%w: sml syntax", types.ErrInvalidFrame)
)

// Kind is the type of a decoded TLV element.
type Kind uint8

const (
	KindNone Kind = iota
	KindOctets
	KindBool
	KindInt
	KindUint
	KindList
	KindEndOfMessage
)

func (k Kind) String() string {
	switch k {
	case KindOctets:
		return "octets"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindList:
		return "list"
	case KindEndOfMessage:
		return "end"
	}
	return "none"
}

// Node is one TLV element. Bytes holds the raw content for octets, bool and
// integers.
type Node struct {
	Kind  Kind
	Bytes []byte
	Int   int64
	Uint  uint64
	List  []Node
}

// MessageTag identifies the body of a message.
type MessageTag uint32

const (
	OpenRequest              MessageTag = 0x0100
	OpenResponse             MessageTag = 0x0101
	CloseRequest             MessageTag = 0x0200
	CloseResponse            MessageTag = 0x0201
	GetProfilePackRequest    MessageTag = 0x0300
	GetProfilePackResponse   MessageTag = 0x0301
	GetProfileListRequest    MessageTag = 0x0400
	GetProfileListResponse   MessageTag = 0x0401
	GetProcParameterRequest  MessageTag = 0x0500
	GetProcParameterResponse MessageTag = 0x0501
	SetProcParameterRequest  MessageTag = 0x0600
	GetListRequest           MessageTag = 0x0700
	GetListResponse          MessageTag = 0x0701
	AttentionResponse        MessageTag = 0xff01
)

var messageNames = map[MessageTag]string{
	OpenRequest:              "OpenRequest",
	OpenResponse:             "OpenResponse",
	CloseRequest:             "CloseRequest",
	CloseResponse:            "CloseResponse",
	GetProfilePackRequest:    "GetProfilePackRequest",
	GetProfilePackResponse:   "GetProfilePackResponse",
	GetProfileListRequest:    "GetProfileListRequest",
	GetProfileListResponse:   "GetProfileListResponse",
	GetProcParameterRequest:  "GetProcParameterRequest",
	GetProcParameterResponse: "GetProcParameterResponse",
	SetProcParameterRequest:  "SetProcParameterRequest",
	GetListRequest:           "GetListRequest",
	GetListResponse:          "GetListResponse",
	AttentionResponse:        "AttentionResponse",
}

func (t MessageTag) String() string {
	if n, ok := messageNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Unknown(0x%04x)", uint32(t))
}

// Message is one SML_Message of a file.
type Message struct {
	TransactionID []byte
	GroupNo       uint8
	AbortOnError  uint8
	Tag           MessageTag
	Body          Node
}

// File is the content between a start and an end escape sequence.
type File struct {
	Messages []Message
}

// ListEntry is one SML_ListEntry of a GetListResponse.
type ListEntry struct {
	ObjName []byte
	Status  []byte
	Unit    uint8
	Scaler  int8
	Value   Node
}
