package vau

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Record is the decrypted VAU plaintext: the bearer access token, the
// request id, the per-request response key, and the raw inner HTTP
// request bytes.
type Record struct {
	AccessToken  string
	RequestID    string
	ResponseKey  []byte
	InnerRequest []byte
}

const recordVersion = "1"

// ParseRecord splits the decrypted plaintext into its four
// space-separated fields: "1" ACCESS_TOKEN REQUEST_ID RESPONSE_KEY
// INNER_HTTP_REQUEST. Only the first three separators are significant;
// the inner HTTP request itself may contain spaces.
func ParseRecord(plaintext []byte) (Record, error) {
	s := string(plaintext)

	version, rest, ok := cut(s)
	if !ok {
		return Record{}, fmt.Errorf("vau: record missing version field")
	}
	if version != recordVersion {
		return Record{}, fmt.Errorf("vau: unsupported record version %q", version)
	}

	accessToken, rest, ok := cut(rest)
	if !ok {
		return Record{}, fmt.Errorf("vau: record missing access token field")
	}

	requestID, rest, ok := cut(rest)
	if !ok {
		return Record{}, fmt.Errorf("vau: record missing request id field")
	}

	responseKeyHex, innerRequest, ok := cut(rest)
	if !ok {
		return Record{}, fmt.Errorf("vau: record missing response key field")
	}
	if len(responseKeyHex) != responseKeyHexLen {
		return Record{}, fmt.Errorf("vau: response key must be %d hex digits, got %d", responseKeyHexLen, len(responseKeyHex))
	}
	responseKey, err := hex.DecodeString(responseKeyHex)
	if err != nil {
		return Record{}, fmt.Errorf("vau: decode response key: %w", err)
	}

	return Record{
		AccessToken:  accessToken,
		RequestID:    requestID,
		ResponseKey:  responseKey,
		InnerRequest: []byte(innerRequest),
	}, nil
}

// cut splits s on the first space, reporting whether a space was found.
func cut(s string) (before, after string, found bool) {
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}

// EncodeResponsePayload builds the plaintext for the response path:
// "1" REQUEST_ID INNER_HTTP_RESPONSE, ready to be sealed with
// EncryptResponse.
func EncodeResponsePayload(requestID string, innerResponse []byte) []byte {
	var b strings.Builder
	b.WriteString(recordVersion)
	b.WriteByte(' ')
	b.WriteString(requestID)
	b.WriteByte(' ')
	b.Write(innerResponse)
	return []byte(b.String())
}
