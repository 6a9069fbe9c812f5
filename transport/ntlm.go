package transport

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/pkg/errors"
	"golang.org/x/crypto/md4"
)

// Minimal NTLMv2 over HTTP. Only the pieces the handshake needs are
// implemented: a type 1 negotiate message, challenge extraction from the
// type 2 message, and a type 3 authenticate message carrying the NTLMv2
// response.

const ntlmSignature = "NTLMSSP\x00"

const (
	ntlmNegotiateUnicode      = 0x00000001
	ntlmRequestTarget         = 0x00000004
	ntlmNegotiateNTLM         = 0x00000200
	ntlmNegotiateAlwaysSign   = 0x00008000
	ntlmNegotiateExtendedSess = 0x00080000
)

func ntlmNegotiateMessage() string {
	msg := make([]byte, 32)
	copy(msg, ntlmSignature)
	binary.LittleEndian.PutUint32(msg[8:], 1)
	flags := uint32(ntlmNegotiateUnicode | ntlmRequestTarget | ntlmNegotiateNTLM |
		ntlmNegotiateAlwaysSign | ntlmNegotiateExtendedSess)
	binary.LittleEndian.PutUint32(msg[12:], flags)
	return base64.StdEncoding.EncodeToString(msg)
}

type ntlmChallenge struct {
	serverChallenge [8]byte
	targetInfo      []byte
}

func parseNTLMChallenge(encoded string) (*ntlmChallenge, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "ntlm challenge is not valid base64")
	}
	if len(raw) < 48 || string(raw[:8]) != ntlmSignature {
		return nil, errors.New("ntlm challenge message too short")
	}
	if binary.LittleEndian.Uint32(raw[8:]) != 2 {
		return nil, errors.New("unexpected ntlm message type")
	}

	ch := &ntlmChallenge{}
	copy(ch.serverChallenge[:], raw[24:32])

	infoLen := int(binary.LittleEndian.Uint16(raw[40:]))
	infoOff := int(binary.LittleEndian.Uint32(raw[44:]))
	if infoLen > 0 && infoOff+infoLen <= len(raw) {
		ch.targetInfo = append([]byte(nil), raw[infoOff:infoOff+infoLen]...)
	}
	return ch, nil
}

func ntlmAuthenticateMessage(username, password string, ch *ntlmChallenge) (string, error) {
	domain := ""
	user := username
	if i := strings.IndexAny(username, "\\/"); i >= 0 {
		domain, user = username[:i], username[i+1:]
	}

	ntResponse, err := ntlmV2Response(user, domain, password, ch)
	if err != nil {
		return "", err
	}

	userBytes := utf16le(user)
	domainBytes := utf16le(domain)

	// Header is fixed-size; payload buffers follow in the order they are
	// referenced.
	const headerLen = 64
	msg := make([]byte, 0, headerLen+len(domainBytes)+len(userBytes)+24+len(ntResponse))
	msg = append(msg, make([]byte, headerLen)...)
	copy(msg, ntlmSignature)
	binary.LittleEndian.PutUint32(msg[8:], 3)

	offset := headerLen
	writeBuffer := func(fieldOff int, data []byte) {
		binary.LittleEndian.PutUint16(msg[fieldOff:], uint16(len(data)))
		binary.LittleEndian.PutUint16(msg[fieldOff+2:], uint16(len(data)))
		binary.LittleEndian.PutUint32(msg[fieldOff+4:], uint32(offset))
		msg = append(msg, data...)
		offset += len(data)
	}

	writeBuffer(12, make([]byte, 24)) // empty LMv2 response
	writeBuffer(20, ntResponse)
	writeBuffer(28, domainBytes)
	writeBuffer(36, userBytes)
	writeBuffer(44, nil) // workstation
	writeBuffer(52, nil) // session key
	flags := uint32(ntlmNegotiateUnicode | ntlmNegotiateNTLM | ntlmNegotiateAlwaysSign)
	binary.LittleEndian.PutUint32(msg[60:], flags)

	return base64.StdEncoding.EncodeToString(msg), nil
}

// ntlmV2Response builds the NTLMv2 response buffer: the HMAC proof followed
// by the blob it was computed over.
func ntlmV2Response(user, domain, password string, ch *ntlmChallenge) ([]byte, error) {
	ntHash := md4Sum(utf16le(password))
	mac := hmac.New(md5.New, ntHash)
	mac.Write(utf16le(strings.ToUpper(user) + domain))
	v2Hash := mac.Sum(nil)

	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate client nonce")
	}

	// Windows file time, 100ns intervals since 1601-01-01.
	timestamp := uint64(time.Now().UnixNano()/100 + 116444736000000000)

	blob := make([]byte, 0, 28+len(ch.targetInfo)+4)
	blob = append(blob, 0x01, 0x01, 0x00, 0x00)
	blob = append(blob, 0x00, 0x00, 0x00, 0x00)
	blob = binary.LittleEndian.AppendUint64(blob, timestamp)
	blob = append(blob, nonce...)
	blob = append(blob, 0x00, 0x00, 0x00, 0x00)
	blob = append(blob, ch.targetInfo...)
	blob = append(blob, 0x00, 0x00, 0x00, 0x00)

	proof := hmac.New(md5.New, v2Hash)
	proof.Write(ch.serverChallenge[:])
	proof.Write(blob)

	return append(proof.Sum(nil), blob...), nil
}

func md4Sum(data []byte) []byte {
	h := md4.New()
	h.Write(data)
	return h.Sum(nil)
}

func utf16le(s string) []byte {
	encoded := utf16.Encode([]rune(s))
	out := make([]byte, len(encoded)*2)
	for i, r := range encoded {
		binary.LittleEndian.PutUint16(out[i*2:], r)
	}
	return out
}
