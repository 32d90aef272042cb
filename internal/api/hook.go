package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of a hook request body, either as
// plain hex or GitHub style "sha256=<hex>".
const SignatureHeader = "X-Convoy-Signature"

var errBadSignature = errors.New("signature verification failed")

// handleHook handles POST /hooks/inbound: the body of POST /inbound, signed
// with the shared hook secret.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody+1))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if len(body) > maxInboundBody {
		s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := verifySignature(body, r.Header.Get(SignatureHeader), s.config.HookSecret); err != nil {
		s.logger.Warn("hook signature rejected", "remote", r.RemoteAddr)
		s.writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req InboundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.acceptInbound(w, r, req)
}

// verifySignature checks signature against the HMAC-SHA256 of body in
// constant time. Every failure returns the same error.
func verifySignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errBadSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return errBadSignature
	}
	if subtle.ConstantTimeCompare(Sign(body, secret), got) != 1 {
		return errBadSignature
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
