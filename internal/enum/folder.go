package enum

type FolderType string

const (
	FolderMail     FolderType = "mail"
	FolderCalendar FolderType = "calendar"
	FolderContacts FolderType = "contacts"
	FolderNotes    FolderType = "notes"
	FolderTasks    FolderType = "tasks"
	FolderUser     FolderType = "user"
)

func (t FolderType) String() string {
	return string(t)
}

// DecodeFolderType maps the numeric type reported by the server in a folder
// hierarchy response. Unknown numbers map to FolderUser rather than failing,
// since servers add folder types over time.
func DecodeFolderType(raw string) FolderType {
	switch raw {
	case "1", "2":
		return FolderMail
	case "8":
		return FolderCalendar
	case "9":
		return FolderContacts
	case "10":
		return FolderNotes
	case "7":
		return FolderTasks
	default:
		return FolderUser
	}
}

// SyncableFolderTypes is the fixed set of folder types a scheduled full pass
// visits, in the order they are synced.
var SyncableFolderTypes = []FolderType{
	FolderMail,
	FolderCalendar,
	FolderContacts,
	FolderNotes,
	FolderTasks,
}
