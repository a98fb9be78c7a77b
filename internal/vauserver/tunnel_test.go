package vauserver

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"

	"github.com/erx-fd/erx-server/internal/innerhttp"
	"github.com/erx-fd/erx-server/internal/logger"
	"github.com/erx-fd/erx-server/internal/pki"
	"github.com/erx-fd/erx-server/internal/vau"
)

// stubDispatcher records the inner request it receives and replays a
// canned inner response, standing in for internal/api.Router.
type stubDispatcher struct {
	gotAuth string
	resp    *innerhttp.Response
}

func (s *stubDispatcher) Handle(_ context.Context, req *innerhttp.Request) (*innerhttp.Response, error) {
	s.gotAuth = req.Header.Get("Authorization")
	return s.resp, nil
}

// sealClientEnvelope builds a valid ECIES envelope exactly as an actual
// client would, using only vau's exported surface plus the curve
// arithmetic internal/pki already exposes.
func sealClientEnvelope(t *testing.T, serverPriv *vau.PrivateKey, plaintext []byte) []byte {
	t.Helper()
	c := pki.BrainpoolP256r1

	clientPriv := big.NewInt(987654321)
	clientPub := c.ScalarBaseMult(clientPriv.Bytes())

	serverPub := c.ScalarBaseMult(serverPriv.D.Bytes())
	shared := c.ScalarMult(clientPriv.Bytes(), serverPub)

	ikm := shared.X.FillBytes(make([]byte, 32))
	reader := hkdf.New(sha256.New, ikm, nil, []byte("ecies-vau-transport"))
	key := make([]byte, 16)
	_, err := io.ReadFull(reader, key)
	require.NoError(t, err)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCMWithNonceSize(block, 12)
	require.NoError(t, err)

	iv := make([]byte, 12)
	for i := range iv {
		iv[i] = byte(i + 1)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)

	envelope := make([]byte, 0, 1+32+32+12+len(sealed))
	envelope = append(envelope, 0x01)
	envelope = append(envelope, clientPub.X.FillBytes(make([]byte, 32))...)
	envelope = append(envelope, clientPub.Y.FillBytes(make([]byte, 32))...)
	envelope = append(envelope, iv...)
	envelope = append(envelope, sealed...)
	return envelope
}

func TestTunnelRoundTripDecryptsDispatchesAndEncrypts(t *testing.T) {
	priv := &vau.PrivateKey{D: big.NewInt(13371337)}
	pseudonyms, err := vau.NewPseudonymGenerator(0)
	require.NoError(t, err)
	defer pseudonyms.Stop()

	responseKey := bytes.Repeat([]byte{0x42}, 16)
	innerRequest := "GET /Health HTTP/1.1\r\nHost: erx-fd\r\n\r\n"
	plaintext := "1 my.jwt.token req-1 " + hex.EncodeToString(responseKey) + " " + innerRequest

	dispatcher := &stubDispatcher{resp: innerhttp.NewResponse(http.StatusOK, []byte(`{"status":"ok"}`))}
	tunnel := &Tunnel{
		PrivateKey: priv,
		Pseudonyms: pseudonyms,
		Router:     dispatcher,
		Log:        logger.NewDefaultLogger(),
	}

	envelope := sealClientEnvelope(t, priv, []byte(plaintext))
	req := httptest.NewRequest(http.MethodPost, "/VAU/0", bytes.NewReader(envelope))
	rec := httptest.NewRecorder()

	tunnel.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Userpseudonym"))
	assert.Equal(t, "Bearer my.jwt.token", dispatcher.gotAuth)
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestTunnelRejectsUnknownPseudonym(t *testing.T) {
	priv := &vau.PrivateKey{D: big.NewInt(13371337)}
	pseudonyms, err := vau.NewPseudonymGenerator(0)
	require.NoError(t, err)
	defer pseudonyms.Stop()

	tunnel := &Tunnel{PrivateKey: priv, Pseudonyms: pseudonyms, Router: &stubDispatcher{}, Log: logger.NewDefaultLogger()}

	req := httptest.NewRequest(http.MethodPost, "/VAU/not-a-real-pseudonym", nil)
	rec := httptest.NewRecorder()
	tunnel.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTunnelRejectsMalformedEnvelope(t *testing.T) {
	priv := &vau.PrivateKey{D: big.NewInt(13371337)}
	pseudonyms, err := vau.NewPseudonymGenerator(0)
	require.NoError(t, err)
	defer pseudonyms.Stop()

	tunnel := &Tunnel{PrivateKey: priv, Pseudonyms: pseudonyms, Router: &stubDispatcher{}, Log: logger.NewDefaultLogger()}

	req := httptest.NewRequest(http.MethodPost, "/VAU/0", bytes.NewReader([]byte("too short")))
	rec := httptest.NewRecorder()
	tunnel.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
