package wire

// Control tokens of the compact binary framing. The stream is a sequence of
// tag bytes; bit 0x40 marks a tag that carries content (an inline string
// and/or child elements) terminated by codeEnd. codeSwitchPage selects the
// vocabulary page for subsequent tags.
const (
	codeSwitchPage byte = 0x00
	codeEnd        byte = 0x01
	codeStrInline  byte = 0x03

	tagContentBit byte = 0x40
	tagCodeMask   byte = 0x3F
)

// Stream header: version, public identifier, charset (UTF-8), empty string
// table.
var streamHeader = []byte{0x03, 0x01, 0x6A, 0x00}

// Code pages. Each item class occupies its own vocabulary page.
const (
	pageAirSync   byte = 0x00
	pageFolders   byte = 0x01
	pagePing      byte = 0x02
	pageProvision byte = 0x03
	pageEmail     byte = 0x04
	pageCalendar  byte = 0x05
	pageContacts  byte = 0x06
	pageTasks     byte = 0x07
	pageNotes     byte = 0x08
)

// AirSync page
const (
	tagSync            byte = 0x05
	tagCollections     byte = 0x06
	tagCollection      byte = 0x07
	tagSyncKey         byte = 0x08
	tagCollectionId    byte = 0x09
	tagStatus          byte = 0x0A
	tagWindowSize      byte = 0x0B
	tagGetChanges      byte = 0x0C
	tagMoreAvailable   byte = 0x0D
	tagCommands        byte = 0x0E
	tagAdd             byte = 0x0F
	tagChange          byte = 0x10
	tagDelete          byte = 0x11
	tagServerId        byte = 0x12
	tagApplicationData byte = 0x13
	tagClass           byte = 0x14
)

// Folder hierarchy page
const (
	tagFolderSync        byte = 0x05
	tagFolderSyncKey     byte = 0x06
	tagFolderStatus      byte = 0x07
	tagFolderChanges     byte = 0x08
	tagFolderCount       byte = 0x09
	tagFolderAdd         byte = 0x0A
	tagFolderUpdate      byte = 0x0B
	tagFolderDelete      byte = 0x0C
	tagFolderServerId    byte = 0x0D
	tagFolderParentId    byte = 0x0E
	tagFolderDisplayName byte = 0x0F
	tagFolderType        byte = 0x10
)

// Ping page
const (
	tagPing              byte = 0x05
	tagPingStatus        byte = 0x06
	tagHeartbeatInterval byte = 0x07
	tagPingFolders       byte = 0x08
	tagPingFolder        byte = 0x09
)

// Provision page
const (
	tagProvision  byte = 0x05
	tagProvStatus byte = 0x06
	tagPolicies   byte = 0x07
	tagPolicy     byte = 0x08
	tagPolicyType byte = 0x09
	tagPolicyKey  byte = 0x0A
)

// Per-class field vocabularies. Only the identity-bearing shape is fixed;
// the engine treats field values as opaque strings.
var fieldTags = map[byte]map[string]byte{
	pageEmail: {
		"subject":      0x05,
		"from":         0x06,
		"to":           0x07,
		"dateReceived": 0x08,
		"read":         0x09,
		"importance":   0x0A,
		"body":         0x0B,
	},
	pageCalendar: {
		"subject":   0x05,
		"startTime": 0x06,
		"endTime":   0x07,
		"location":  0x08,
		"body":      0x09,
		"allDay":    0x0A,
	},
	pageContacts: {
		"firstName":    0x05,
		"lastName":     0x06,
		"emailAddress": 0x07,
		"companyName":  0x08,
		"mobileNumber": 0x09,
	},
	pageTasks: {
		"subject":    0x05,
		"dueDate":    0x06,
		"complete":   0x07,
		"importance": 0x08,
		"body":       0x09,
	},
	pageNotes: {
		"subject":      0x05,
		"body":         0x06,
		"lastModified": 0x07,
	},
}

var fieldNames = buildFieldNames()

func buildFieldNames() map[byte]map[byte]string {
	out := make(map[byte]map[byte]string, len(fieldTags))
	for page, tags := range fieldTags {
		names := make(map[byte]string, len(tags))
		for name, tag := range tags {
			names[tag] = name
		}
		out[page] = names
	}
	return out
}
