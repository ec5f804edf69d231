package protocol

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrEmpty is returned when there is no document to decode.
	ErrEmpty = errors.New("empty message")
	// ErrMalformed is returned when the document cannot be parsed.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownKind is returned for a well-formed document whose root element is not in the catalog.
	ErrUnknownKind = errors.New("unknown message kind")
)

// catalog maps each kind to a constructor for its zero message.
var catalog = map[Kind]func() Message{
	KindRegister:             func() Message { return &Register{} },
	KindRegisterResponse:     func() Message { return &RegisterResponse{} },
	KindStatus:               func() Message { return &Status{} },
	KindSolveRequest:         func() Message { return &SolveRequest{} },
	KindSolveRequestResponse: func() Message { return &SolveRequestResponse{} },
	KindDivideProblem:        func() Message { return &DivideProblem{} },
	KindPartialProblems:      func() Message { return &PartialProblems{} },
	KindSolutions:            func() Message { return &Solutions{} },
	KindSolutionRequest:      func() Message { return &SolutionRequest{} },
}

// Known reports whether k is part of the message catalog.
func Known(k Kind) bool {
	_, ok := catalog[k]
	return ok
}

// KindOf returns the root element name of an encoded message without decoding the body.
func KindOf(raw []byte) (Kind, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", ErrEmpty
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%w: no root element", ErrMalformed)
			}
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return Kind(start.Name.Local), nil
		}
	}
}

// Decode parses an encoded message into its catalog type.
func Decode(raw []byte) (Message, error) {
	kind, err := KindOf(raw)
	if err != nil {
		return nil, err
	}

	newMessage, ok := catalog[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	msg := newMessage()
	if err := xml.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	return msg, nil
}

// Encode serializes msg. A nil message encodes to an empty payload, which
// tells the peer no action is needed.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, nil
	}

	body, err := xml.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}

	out := make([]byte, 0, len(xml.Header)+len(body))
	out = append(out, xml.Header...)
	return append(out, body...), nil
}
