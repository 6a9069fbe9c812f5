package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncstack/airsync/internal/enum"
)

// buildSyncResponse assembles a server-side Sync response the way a real
// server frames it.
func buildSyncResponse(status, syncKey, collectionID string, build func(e *encoder)) []byte {
	e := newEncoder()
	e.open(pageAirSync, tagSync)
	e.open(pageAirSync, tagCollections)
	e.open(pageAirSync, tagCollection)
	e.value(pageAirSync, tagClass, "mail")
	e.value(pageAirSync, tagSyncKey, syncKey)
	e.value(pageAirSync, tagCollectionId, collectionID)
	e.value(pageAirSync, tagStatus, status)
	if build != nil {
		build(e)
	}
	e.end() // Collection
	e.end() // Collections
	e.end() // Sync
	return e.bytes()
}

func addItem(e *encoder, serverID string, fields map[string]interface{}) {
	e.open(pageAirSync, tagAdd)
	e.value(pageAirSync, tagServerId, serverID)
	e.open(pageAirSync, tagApplicationData)
	e.fields(pageEmail, fields)
	e.end()
	e.end()
}

func TestSyncRequestEncodeIsDeterministic(t *testing.T) {
	// Arrange
	req := &SyncRequest{
		SyncKey:      "42",
		CollectionID: "inbox",
		Class:        enum.FolderMail,
		WindowSize:   100,
		GetChanges:   true,
	}

	// Act
	first, err := req.Encode()
	require.NoError(t, err)
	second, err := req.Encode()
	require.NoError(t, err)

	// Assert
	assert.Equal(t, first, second)
	assert.Equal(t, streamHeader, first[:4])
}

func TestSyncRequestEncodeRejectsMissingIdentity(t *testing.T) {
	_, err := (&SyncRequest{SyncKey: "1"}).Encode()
	assert.True(t, IsCodecError(err))

	_, err = (&SyncRequest{CollectionID: "inbox"}).Encode()
	assert.True(t, IsCodecError(err))
}

func TestDecodeSyncResponseItemsAndDeletions(t *testing.T) {
	// Arrange
	data := buildSyncResponse("1", "7", "inbox", func(e *encoder) {
		e.empty(pageAirSync, tagMoreAvailable)
		e.open(pageAirSync, tagCommands)
		addItem(e, "srv-1", map[string]interface{}{"subject": "hello", "from": "a@b.c"})
		addItem(e, "srv-2", map[string]interface{}{"subject": "second"})
		e.open(pageAirSync, tagDelete)
		e.value(pageAirSync, tagServerId, "srv-9")
		e.end()
		e.end()
	})

	// Act
	resp, err := DecodeSyncResponse(data)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "7", resp.Changeset.SyncKey)
	assert.Equal(t, "inbox", resp.CollectionID)
	assert.True(t, resp.Changeset.MoreAvailable)
	require.Len(t, resp.Changeset.Upserts, 2)
	assert.Equal(t, "srv-1", resp.Changeset.Upserts[0].ServerID)
	assert.Equal(t, "hello", resp.Changeset.Upserts[0].Fields["subject"])
	assert.Equal(t, []string{"srv-9"}, resp.Changeset.Deletions)
}

func TestDecodeSyncResponseSkipsUnknownTags(t *testing.T) {
	// An unknown tag with content inside the collection must be skipped,
	// not fatal, and unknown field tags are dropped at mapping time.
	data := buildSyncResponse("1", "3", "inbox", func(e *encoder) {
		e.open(pageAirSync, 0x3A)
		e.str("future extension")
		e.end()
		e.open(pageAirSync, tagCommands)
		e.open(pageAirSync, tagAdd)
		e.value(pageAirSync, tagServerId, "srv-1")
		e.open(pageAirSync, tagApplicationData)
		e.value(pageEmail, 0x3B, "unknown field")
		e.value(pageEmail, 0x05, "known subject")
		e.end()
		e.end()
		e.end()
	})

	resp, err := DecodeSyncResponse(data)

	require.NoError(t, err)
	require.Len(t, resp.Changeset.Upserts, 1)
	assert.Equal(t, map[string]interface{}{"subject": "known subject"}, resp.Changeset.Upserts[0].Fields)
}

func TestDecodeSyncResponseIgnoresTrailingBytes(t *testing.T) {
	data := buildSyncResponse("1", "3", "inbox", nil)
	data = append(data, 0xDE, 0xAD, 0xBE, 0xEF)

	resp, err := DecodeSyncResponse(data)

	require.NoError(t, err)
	assert.Equal(t, "3", resp.Changeset.SyncKey)
}

func TestDecodeSyncResponseEmptyValue(t *testing.T) {
	// A contentless tag decodes to the empty string, never an error.
	data := buildSyncResponse("1", "3", "inbox", func(e *encoder) {
		e.open(pageAirSync, tagCommands)
		e.open(pageAirSync, tagAdd)
		e.value(pageAirSync, tagServerId, "srv-1")
		e.open(pageAirSync, tagApplicationData)
		e.empty(pageEmail, 0x05) // subject with no value
		e.end()
		e.end()
		e.end()
	})

	resp, err := DecodeSyncResponse(data)

	require.NoError(t, err)
	assert.Equal(t, "", resp.Changeset.Upserts[0].Fields["subject"])
}

func TestDecodeSyncResponseTruncated(t *testing.T) {
	data := buildSyncResponse("1", "3", "inbox", nil)

	_, err := DecodeSyncResponse(data[:len(data)-3])

	assert.True(t, IsCodecError(err))
}

func TestDecodeSyncResponseMissingSyncKey(t *testing.T) {
	// A successful response must carry a token; it is never defaulted.
	e := newEncoder()
	e.open(pageAirSync, tagSync)
	e.open(pageAirSync, tagCollections)
	e.open(pageAirSync, tagCollection)
	e.value(pageAirSync, tagCollectionId, "inbox")
	e.value(pageAirSync, tagStatus, "1")
	e.end()
	e.end()
	e.end()

	_, err := DecodeSyncResponse(e.bytes())

	assert.True(t, IsCodecError(err))
}

func TestDecodeSyncResponseItemWithoutServerID(t *testing.T) {
	data := buildSyncResponse("1", "3", "inbox", func(e *encoder) {
		e.open(pageAirSync, tagCommands)
		e.open(pageAirSync, tagAdd)
		e.open(pageAirSync, tagApplicationData)
		e.end()
		e.end()
		e.end()
	})

	_, err := DecodeSyncResponse(data)

	assert.True(t, IsCodecError(err))
}

func TestDecodeSyncResponseStatuses(t *testing.T) {
	tests := []struct {
		raw    string
		status Status
	}{
		{"1", StatusOK},
		{"3", StatusInvalidToken},
		{"5", StatusServerError},
		{"7", StatusAuthRejected},
		{"12", StatusFolderStale},
		// Unknown codes resolve to a terminal server error, never to a
		// token-resetting status.
		{"99", StatusServerError},
	}
	for _, tt := range tests {
		data := buildSyncResponse(tt.raw, "3", "inbox", nil)
		resp, err := DecodeSyncResponse(data)
		require.NoError(t, err, "status %s", tt.raw)
		assert.Equal(t, tt.status, resp.Status, "status %s", tt.raw)
	}
}

func TestDecodeFolderSyncResponse(t *testing.T) {
	// Arrange
	e := newEncoder()
	e.open(pageFolders, tagFolderSync)
	e.value(pageFolders, tagFolderStatus, "1")
	e.value(pageFolders, tagFolderSyncKey, "12")
	e.open(pageFolders, tagFolderChanges)
	e.open(pageFolders, tagFolderAdd)
	e.value(pageFolders, tagFolderServerId, "5")
	e.value(pageFolders, tagFolderParentId, "0")
	e.value(pageFolders, tagFolderDisplayName, "Inbox")
	e.value(pageFolders, tagFolderType, "2")
	e.end()
	e.open(pageFolders, tagFolderDelete)
	e.value(pageFolders, tagFolderServerId, "9")
	e.end()
	e.end()
	e.end()

	// Act
	resp, err := DecodeFolderSyncResponse(e.bytes())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "12", resp.SyncKey)
	require.Len(t, resp.Adds, 1)
	assert.Equal(t, "5", resp.Adds[0].ServerID)
	assert.Equal(t, "Inbox", resp.Adds[0].DisplayName)
	assert.Equal(t, enum.FolderMail, resp.Adds[0].Type)
	assert.Equal(t, []string{"9"}, resp.Deletes)
}

func TestDecodeFolderSyncInvalidTokenStatus(t *testing.T) {
	e := newEncoder()
	e.open(pageFolders, tagFolderSync)
	e.value(pageFolders, tagFolderStatus, "9")
	e.end()

	resp, err := DecodeFolderSyncResponse(e.bytes())

	require.NoError(t, err)
	assert.Equal(t, StatusInvalidToken, resp.Status)
}

func TestPingRoundTrip(t *testing.T) {
	body, err := (&PingRequest{HeartbeatSeconds: 300, FolderServerIDs: []string{"5", "6"}}).Encode()
	require.NoError(t, err)
	assert.Equal(t, streamHeader, body[:4])

	e := newEncoder()
	e.open(pagePing, tagPing)
	e.value(pagePing, tagPingStatus, "2")
	e.open(pagePing, tagPingFolders)
	e.value(pagePing, tagPingFolder, "5")
	e.end()
	e.end()

	resp, err := DecodePingResponse(e.bytes())
	require.NoError(t, err)
	assert.Equal(t, StatusChangesFound, resp.Status)
	assert.Equal(t, []string{"5"}, resp.ChangedFolders)
}

func TestDecodePingChangesWithoutFolders(t *testing.T) {
	e := newEncoder()
	e.open(pagePing, tagPing)
	e.value(pagePing, tagPingStatus, "2")
	e.end()

	_, err := DecodePingResponse(e.bytes())

	assert.True(t, IsCodecError(err))
}

func TestDecodePingHeartbeatOutOfBounds(t *testing.T) {
	e := newEncoder()
	e.open(pagePing, tagPing)
	e.value(pagePing, tagPingStatus, "5")
	e.end()

	resp, err := DecodePingResponse(e.bytes())

	require.NoError(t, err)
	assert.Equal(t, StatusHeartbeatOutOfBounds, resp.Status)
}

func TestDecodeProvisionResponse(t *testing.T) {
	e := newEncoder()
	e.open(pageProvision, tagProvision)
	e.value(pageProvision, tagProvStatus, "1")
	e.open(pageProvision, tagPolicies)
	e.open(pageProvision, tagPolicy)
	e.value(pageProvision, tagPolicyKey, "policy-123")
	e.end()
	e.end()
	e.end()

	resp, err := DecodeProvisionResponse(e.bytes())

	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "policy-123", resp.PolicyKey)
}

func TestPageSwitchEmittedOnlyOnChange(t *testing.T) {
	// Two values on the same page must not repeat the page switch.
	e := newEncoder()
	e.open(pagePing, tagPing)
	e.value(pagePing, tagPingStatus, "1")
	e.value(pagePing, tagHeartbeatInterval, "300")
	e.end()
	data := e.bytes()

	switches := 0
	for i := 4; i < len(data)-1; i++ {
		if data[i] == codeSwitchPage && data[i+1] == pagePing {
			switches++
		}
	}
	assert.Equal(t, 1, switches)
}

func TestProtocolStatusErrorRetryable(t *testing.T) {
	assert.True(t, (&ProtocolStatusError{Status: StatusInvalidToken}).Retryable())
	assert.True(t, (&ProtocolStatusError{Status: StatusHeartbeatOutOfBounds}).Retryable())
	assert.False(t, (&ProtocolStatusError{Status: StatusAuthRejected}).Retryable())
	assert.False(t, (&ProtocolStatusError{Status: StatusServerError}).Retryable())
}
