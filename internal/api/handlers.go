package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// maxPayloadBytes bounds request bodies.
const maxPayloadBytes = 1 << 20

// DecodePayload reads a single JSON document from the request body into dest.
// Strict decoding rejects unknown fields.
func DecodePayload(w http.ResponseWriter, r *http.Request, dest any, strict bool) error {
	ct := r.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(ct) {
	case "application/json", "":
	default:
		return errors.New("unsupported content type")
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	// ensure there's no extra data
	if dec.More() {
		return errors.New("extra data in request body")
	}
	return nil
}
