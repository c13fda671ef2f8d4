// Package auth verifies the shared secret presented to administrative
// endpoints.
package auth

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingCredentials = errors.New("missing credentials")
)

// MaxCredentialBodyBytes bounds how much of a request body SecretFromJSON
// reads.
const MaxCredentialBodyBytes = 4 << 10

type Verifier interface {
	Verify(credential string) error
}

// SecretVerifier accepts exactly one configured secret. An empty Expected
// rejects everything, so an unconfigured deployment cannot be unlocked with
// an empty credential.
type SecretVerifier struct {
	Expected string
}

func (v SecretVerifier) Verify(secret string) error {
	if secret == "" || v.Expected == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(v.Expected)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// SecretFromJSON reads a JSON object from r and returns field as a string.
// Browser forms post the secret either as a string or as a bare number, so
// both are accepted; numbers keep their literal text.
func SecretFromJSON(r io.Reader, field string) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxCredentialBodyBytes+1))
	if err != nil {
		return "", err
	}
	if len(body) > MaxCredentialBodyBytes {
		return "", fmt.Errorf("request body exceeds %d bytes", MaxCredentialBodyBytes)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", ErrMissingCredentials
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", fmt.Errorf("decode credentials: %w", err)
	}
	raw, ok := fields[field]
	if !ok {
		return "", ErrMissingCredentials
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("decode %s: %w", field, err)
	}
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return s, nil
		}
		return "", ErrMissingCredentials
	case json.Number:
		return val.String(), nil
	default:
		return "", ErrMissingCredentials
	}
}
