package secondfactor

import (
	"bytes"
	"image/png"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEngine(at time.Time) *Engine {
	e := NewEngine("gatekeeper")
	e.now = func() time.Time { return at }
	return e
}

func TestNewSecret(t *testing.T) {
	e := NewEngine("gatekeeper")

	k, err := e.NewSecret("alice@example.com")
	require.NoError(t, err)
	assert.Len(t, k.Secret, 32)

	u, err := url.Parse(k.URI)
	require.NoError(t, err)
	assert.Equal(t, "otpauth", u.Scheme)
	assert.Equal(t, "totp", u.Host)
	assert.Contains(t, u.Path, "alice@example.com")
	assert.Equal(t, k.Secret, u.Query().Get("secret"))
	assert.Equal(t, "gatekeeper", u.Query().Get("issuer"))

	other, err := e.NewSecret("alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, k.Secret, other.Secret)
}

func TestProvision_KeepsSecret(t *testing.T) {
	e := NewEngine("gatekeeper")
	k, err := e.NewSecret("alice@example.com")
	require.NoError(t, err)

	again, err := e.Provision(k.Secret, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, k.Secret, again.Secret)
	assert.Equal(t, k.URI, again.URI)

	_, err = e.Provision("not base32 !!", "alice@example.com")
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestValidate_Window(t *testing.T) {
	k, err := NewEngine("gatekeeper").NewSecret("alice@example.com")
	require.NoError(t, err)

	// any offset under one period lands at most one step away
	T := time.Unix(1_700_000_015, 0)
	code, err := Code(k.Secret, T)
	require.NoError(t, err)

	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"same instant", 0, true},
		{"29s later", 29 * time.Second, true},
		{"29s earlier", -29 * time.Second, true},
		{"90s later", 90 * time.Second, false},
		{"90s earlier", -90 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fixedEngine(T.Add(tt.offset)).Validate(k.Secret, code))
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	k, err := NewEngine("gatekeeper").NewSecret("bob")
	require.NoError(t, err)
	e := fixedEngine(time.Now())

	code, err := Code(k.Secret, time.Now())
	require.NoError(t, err)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	assert.False(t, e.Validate(k.Secret, wrong))
	assert.False(t, e.Validate(k.Secret, "12345"))
	assert.False(t, e.Validate(k.Secret, ""))
	assert.True(t, e.Validate(k.Secret, " "+code+" "))
}

func TestQRCode(t *testing.T) {
	e := NewEngine("gatekeeper")
	k, err := e.NewSecret("alice@example.com")
	require.NoError(t, err)

	data, err := e.QRCode(k.Secret, "alice@example.com", 200)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())

	_, err = e.QRCode("", "alice@example.com", 200)
	assert.ErrorIs(t, err, ErrInvalidSecret)
}
