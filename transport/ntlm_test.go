package transport

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChallengeMessage assembles a type 2 message the way a server does.
func buildChallengeMessage(challenge [8]byte, targetInfo []byte) string {
	msg := make([]byte, 48, 48+len(targetInfo))
	copy(msg, ntlmSignature)
	binary.LittleEndian.PutUint32(msg[8:], 2)
	copy(msg[24:32], challenge[:])
	binary.LittleEndian.PutUint16(msg[40:], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint16(msg[42:], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint32(msg[44:], 48)
	msg = append(msg, targetInfo...)
	return base64.StdEncoding.EncodeToString(msg)
}

func TestNegotiateMessage(t *testing.T) {
	raw, err := base64.StdEncoding.DecodeString(ntlmNegotiateMessage())

	require.NoError(t, err)
	require.Len(t, raw, 32)
	assert.Equal(t, ntlmSignature, string(raw[:8]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(raw[8:]))

	flags := binary.LittleEndian.Uint32(raw[12:])
	assert.NotZero(t, flags&ntlmNegotiateUnicode)
	assert.NotZero(t, flags&ntlmNegotiateNTLM)
}

func TestParseNTLMChallenge(t *testing.T) {
	challenge := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	targetInfo := []byte{0x02, 0x00, 0x04, 0x00, 'E', 0x00, 'X', 0x00}

	parsed, err := parseNTLMChallenge(buildChallengeMessage(challenge, targetInfo))

	require.NoError(t, err)
	assert.Equal(t, challenge, parsed.serverChallenge)
	assert.Equal(t, targetInfo, parsed.targetInfo)
}

func TestParseNTLMChallengeRejectsGarbage(t *testing.T) {
	_, err := parseNTLMChallenge("not base64 at all!!!")
	assert.Error(t, err)

	_, err = parseNTLMChallenge(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.Error(t, err)

	// A negotiate message is not a challenge.
	_, err = parseNTLMChallenge(ntlmNegotiateMessage())
	assert.Error(t, err)
}

func TestAuthenticateMessageLayout(t *testing.T) {
	// Arrange
	parsed, err := parseNTLMChallenge(buildChallengeMessage([8]byte{9, 9, 9, 9, 9, 9, 9, 9}, nil))
	require.NoError(t, err)

	// Act
	encoded, err := ntlmAuthenticateMessage(`CORP\jdoe`, "hunter2", parsed)
	require.NoError(t, err)

	// Assert
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, ntlmSignature, string(raw[:8]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(raw[8:]))

	readBuffer := func(fieldOff int) []byte {
		length := int(binary.LittleEndian.Uint16(raw[fieldOff:]))
		offset := int(binary.LittleEndian.Uint32(raw[fieldOff+4:]))
		require.LessOrEqual(t, offset+length, len(raw))
		return raw[offset : offset+length]
	}

	// The LMv2 slot is 24 zero bytes.
	lm := readBuffer(12)
	assert.Equal(t, make([]byte, 24), lm)

	// NTLMv2 response: 16-byte proof followed by a blob of at least the
	// fixed prefix.
	nt := readBuffer(20)
	assert.GreaterOrEqual(t, len(nt), 16+28)
	assert.Equal(t, []byte{0x01, 0x01, 0x00, 0x00}, nt[16:20])

	assert.Equal(t, utf16le("CORP"), readBuffer(28))
	assert.Equal(t, utf16le("jdoe"), readBuffer(36))
}

func TestNTLMV2ProofVerifies(t *testing.T) {
	// Recompute the proof server-side from the same inputs.
	ch := &ntlmChallenge{
		serverChallenge: [8]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x11},
		targetInfo:      []byte{0x02, 0x00, 0x02, 0x00, 'X', 0x00},
	}

	resp, err := ntlmV2Response("jdoe", "CORP", "hunter2", ch)
	require.NoError(t, err)
	require.Greater(t, len(resp), 16)

	ntHash := md4Sum(utf16le("hunter2"))
	mac := hmac.New(md5.New, ntHash)
	mac.Write(utf16le(strings.ToUpper("jdoe") + "CORP"))
	v2Hash := mac.Sum(nil)

	proof := hmac.New(md5.New, v2Hash)
	proof.Write(ch.serverChallenge[:])
	proof.Write(resp[16:])

	assert.Equal(t, proof.Sum(nil), resp[:16])
}

func TestUTF16LE(t *testing.T) {
	assert.Equal(t, []byte{'a', 0x00, 'b', 0x00}, utf16le("ab"))
	assert.Empty(t, utf16le(""))
}
