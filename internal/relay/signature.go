package relay

import (
	"strings"

	"github.com/google/go-github/v45/github"
	"github.com/pkg/errors"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
)

var errMissingSignature = errors.New("missing " + signatureHeader + " header")

// verifySignature checks headerSignature against the HMAC-SHA256 of body.
// An empty secret disables verification and reports ok with skipped set.
func verifySignature(body []byte, headerSignature, secret string) (skipped bool, err error) {
	if strings.TrimSpace(secret) == "" {
		return true, nil
	}
	if headerSignature == "" {
		return false, errMissingSignature
	}
	if !strings.HasPrefix(headerSignature, signaturePrefix) {
		return false, errors.New("invalid signature prefix")
	}
	if err := github.ValidateSignature(headerSignature, body, []byte(secret)); err != nil {
		return false, errors.Wrap(err, "signature mismatch")
	}
	return false, nil
}
