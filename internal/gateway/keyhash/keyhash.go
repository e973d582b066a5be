// Package keyhash derives content-addressed cache keys for render requests.
package keyhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/edgecomet/mediacache/pkg/types"
)

// KeyLength is the length of a derived key in hex characters
const KeyLength = sha256.Size * 2

// Derive returns the hex SHA-256 of the request's canonical form:
// composition id, kind, format, canonical props JSON and the asset digest,
// each length-prefixed so that field boundaries cannot shift.
// The asset filename and upload time never take part in the key.
func Derive(req *types.RenderRequest) (string, error) {
	props, err := CanonicalProps(req.InputProps)
	if err != nil {
		return "", fmt.Errorf("%w: props are not serializable: %v", types.ErrBadRequest, err)
	}

	var digest string
	if req.Asset != nil {
		digest = req.Asset.ContentDigest
	}

	h := sha256.New()
	writeField(h, []byte(req.CompositionID))
	writeField(h, []byte(req.Kind))
	writeField(h, []byte(req.Format))
	writeField(h, props)
	writeField(h, []byte(digest))

	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalProps serializes props with object keys sorted at every depth.
// A nil map and an empty map both encode as {}.
func CanonicalProps(props map[string]any) ([]byte, error) {
	if props == nil {
		props = map[string]any{}
	}

	// encoding/json sorts map keys, nested maps included
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(props); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func writeField(h hash.Hash, field []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(field)))
	h.Write(length[:])
	h.Write(field)
}

// Valid reports whether s looks like a derived key
func Valid(s string) bool {
	if len(s) != KeyLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
