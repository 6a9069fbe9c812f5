package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLegacyTaskCreate(t *testing.T) {
	body, err := EncodeLegacy(&LegacyTaskCreate{
		FolderID: "tasks-1",
		Subject:  "file expense report",
		DueDate:  "2024-03-01",
	})

	require.NoError(t, err)
	s := string(body)
	assert.True(t, strings.HasPrefix(s, "<?xml"))
	assert.Contains(t, s, `xmlns="AirSyncLegacy:"`)
	assert.Contains(t, s, "<Subject>file expense report</Subject>")
	assert.NotContains(t, s, "<Importance>")
}

func TestEncodeLegacyRejectsUnknownType(t *testing.T) {
	_, err := EncodeLegacy(struct{}{})
	assert.True(t, IsCodecError(err))
}

func TestDecodeLegacyMutationResponse(t *testing.T) {
	data := []byte(`<?xml version="1.0"?><Response><Status>1</Status><ServerId>task-7</ServerId></Response>`)

	resp, err := DecodeLegacyMutationResponse("TaskCreate", data)

	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "task-7", resp.ServerID)
}

func TestDecodeLegacyNoteSync(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
<NoteSyncResponse>
  <Status>1</Status>
  <SyncKey>note-key-4</SyncKey>
  <MoreAvailable>true</MoreAvailable>
  <Notes>
    <Note><ServerId>n1</ServerId><Subject>groceries</Subject><Body>milk</Body><LastModified>2024-01-01T00:00:00Z</LastModified></Note>
    <Note><ServerId>n2</ServerId><Subject></Subject><Body></Body><LastModified></LastModified></Note>
  </Notes>
  <Deleted><ServerId>n9</ServerId></Deleted>
</NoteSyncResponse>`)

	resp, err := DecodeLegacyNoteSync(data)

	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "note-key-4", resp.Changeset.SyncKey)
	assert.True(t, resp.Changeset.MoreAvailable)
	require.Len(t, resp.Changeset.Upserts, 2)
	assert.Equal(t, "n1", resp.Changeset.Upserts[0].ServerID)
	assert.Equal(t, "groceries", resp.Changeset.Upserts[0].Fields["subject"])
	assert.Equal(t, []string{"n9"}, resp.Changeset.Deletions)
}

func TestDecodeLegacyNoteSyncInvalidToken(t *testing.T) {
	data := []byte(`<NoteSyncResponse><Status>3</Status></NoteSyncResponse>`)

	resp, err := DecodeLegacyNoteSync(data)

	require.NoError(t, err)
	assert.Equal(t, StatusInvalidToken, resp.Status)
}

func TestDecodeLegacyNoteSyncMissingSyncKey(t *testing.T) {
	data := []byte(`<NoteSyncResponse><Status>1</Status></NoteSyncResponse>`)

	_, err := DecodeLegacyNoteSync(data)

	assert.True(t, IsCodecError(err))
}

func TestDecodeLegacyNoteSyncMalformed(t *testing.T) {
	_, err := DecodeLegacyNoteSync([]byte("not xml at all"))
	assert.True(t, IsCodecError(err))
}
