package wire

import "github.com/syncstack/airsync/internal/enum"

// Operation names the protocol exchanges whose framing can differ by server
// generation.
type Operation string

const (
	OpSync        Operation = "sync"
	OpFolderSync  Operation = "folderSync"
	OpPing        Operation = "ping"
	OpProvision   Operation = "provision"
	OpTaskCreate  Operation = "taskCreate"
	OpTaskDelete  Operation = "taskDelete"
	OpEventCreate Operation = "eventCreate"
	OpNoteSync    Operation = "noteSync"
)

type Format int

const (
	FormatBinary Format = iota
	FormatLegacyXML
)

func (f Format) ContentType() string {
	if f == FormatLegacyXML {
		return "text/xml"
	}
	return "application/vnd.airsync.stream"
}

// CapabilityTable resolves the framing per operation. It is computed once
// per account at setup instead of consulting the generation at every call
// site.
type CapabilityTable map[Operation]Format

var legacyOperations = []Operation{OpTaskCreate, OpTaskDelete, OpEventCreate, OpNoteSync}

func ResolveCapabilities(gen enum.ServerGeneration) CapabilityTable {
	table := CapabilityTable{
		OpSync:        FormatBinary,
		OpFolderSync:  FormatBinary,
		OpPing:        FormatBinary,
		OpProvision:   FormatBinary,
		OpTaskCreate:  FormatBinary,
		OpTaskDelete:  FormatBinary,
		OpEventCreate: FormatBinary,
		OpNoteSync:    FormatBinary,
	}
	if gen == enum.GenerationLegacy {
		for _, op := range legacyOperations {
			table[op] = FormatLegacyXML
		}
	}
	return table
}

func (t CapabilityTable) FormatFor(op Operation) Format {
	return t[op]
}

// RequiresReconciliation reports whether a folder's remote state can be
// mutated through the legacy channel while being read back through the
// compact one. Such folders never observe deletions incrementally, so the
// merge step must diff the full remote listing after each windowed pass.
// Only the notes type is dual-written; the other types have a single
// creation path, so the O(n) diff is not paid for them.
func RequiresReconciliation(gen enum.ServerGeneration, folderType enum.FolderType) bool {
	return gen == enum.GenerationLegacy && folderType == enum.FolderNotes
}
