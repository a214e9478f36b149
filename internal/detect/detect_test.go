package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRegistrySeedsTwoSignatures(t *testing.T) {
	r := Default()
	assert.Len(t, r.signatures, 2)
	assert.Equal(t, "challenge_url_param", r.signatures[0].Name)
	assert.Equal(t, "recaptcha_widget", r.signatures[1].Name)
}

func TestRegisterAppendsCustomSignature(t *testing.T) {
	r := Default()
	r.Register(Signature{Name: "custom_banner"})
	assert.Len(t, r.signatures, 3)
	assert.Equal(t, "custom_banner", r.signatures[2].Name)
}

func TestChallengeURLParamSignatureMatchesBySubstring(t *testing.T) {
	r := Default()
	matched, err := r.signatures[0].Check(nil, nil, "https://example.com/verify?chal_t=abc123")
	assert.NoError(t, err)
	assert.True(t, matched)

	matched, err = r.signatures[0].Check(nil, nil, "https://example.com/checkout")
	assert.NoError(t, err)
	assert.False(t, matched)
}
