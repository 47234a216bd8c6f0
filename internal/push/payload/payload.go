// Package payload renders the neutral notification model into the wire
// bodies expected by each push provider.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	xerrors "engage-service/internal/pkg/errors"
)

// Message is the provider-neutral notification handed to a Builder.
type Message struct {
	ID         string
	Subject    string
	Body       string
	CustomKey  string
	CustomData string // raw JSON, empty when unset
	Silent     bool
}

// Builder renders a Message for one provider.
type Builder interface {
	Build(token string, msg Message) ([]byte, error)
}

// hasCustom reports whether msg carries a custom key/value pair.
func (m Message) hasCustom() bool {
	return m.CustomKey != "" && strings.TrimSpace(m.CustomData) != ""
}

// decodeCustom parses the custom data keeping numbers as json.Number so that
// their exact text survives re-encoding.
func decodeCustom(raw string) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: custom data is not valid JSON: %v", xerrors.ErrPayloadEncoding, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after custom JSON value", xerrors.ErrPayloadEncoding)
	}
	return v, nil
}

// decimalString renders n without exponent. Integral values lose no digits.
func decimalString(n json.Number) (string, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		return s, nil
	}
	f, _, err := big.ParseFloat(s, 10, 256, big.ToNearestEven)
	if err != nil {
		return "", fmt.Errorf("%w: bad number %q", xerrors.ErrPayloadEncoding, s)
	}
	return f.Text('f', -1), nil
}

// compactJSON encodes v without HTML escaping so URLs in custom data stay
// readable on the client.
func compactJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrPayloadEncoding, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
