package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	const (
		secret = "s3cret"
		body   = `{"action":"created"}`
	)

	tests := []struct {
		name        string
		header      string
		secret      string
		wantSkipped bool
		wantErr     bool
	}{
		{name: "no secret", header: "", secret: "", wantSkipped: true},
		{name: "blank secret", header: "sha256=00", secret: "  ", wantSkipped: true},
		{name: "valid", header: sign(secret, body), secret: secret},
		{name: "missing header", header: "", secret: secret, wantErr: true},
		{name: "sha1 prefix", header: "sha1=abcdef", secret: secret, wantErr: true},
		{name: "bad hex", header: "sha256=zz", secret: secret, wantErr: true},
		{name: "wrong secret", header: sign("other", body), secret: secret, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skipped, err := verifySignature([]byte(body), tt.header, tt.secret)
			assert.Equal(t, tt.wantSkipped, skipped)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifySignature_MissingHeaderError(t *testing.T) {
	_, err := verifySignature([]byte("{}"), "", "s3cret")
	assert.ErrorIs(t, err, errMissingSignature)
}
