package wire

import "strconv"

// Status is the closed set of protocol outcomes. Raw numeric codes are
// interpreted once, here, per command; downstream state machines match on
// Status exhaustively and never re-read raw integers.
type Status int

const (
	StatusUnknown Status = iota
	StatusOK
	StatusNoChanges
	StatusChangesFound
	StatusInvalidToken
	StatusProtocolError
	StatusServerError
	StatusHeartbeatOutOfBounds
	StatusFolderStale
	StatusAuthRejected
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoChanges:
		return "no-changes"
	case StatusChangesFound:
		return "changes-found"
	case StatusInvalidToken:
		return "invalid-token"
	case StatusProtocolError:
		return "protocol-error"
	case StatusServerError:
		return "server-error"
	case StatusHeartbeatOutOfBounds:
		return "heartbeat-out-of-bounds"
	case StatusFolderStale:
		return "folder-stale"
	case StatusAuthRejected:
		return "auth-rejected"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

var syncStatusCodes = map[int]Status{
	1:  StatusOK,
	3:  StatusInvalidToken,
	4:  StatusProtocolError,
	5:  StatusServerError,
	7:  StatusAuthRejected,
	12: StatusFolderStale,
	13: StatusUnsupported,
}

var folderSyncStatusCodes = map[int]Status{
	1:  StatusOK,
	9:  StatusInvalidToken,
	10: StatusProtocolError,
	11: StatusServerError,
}

var pingStatusCodes = map[int]Status{
	1: StatusNoChanges,
	2: StatusChangesFound,
	3: StatusProtocolError,
	5: StatusHeartbeatOutOfBounds,
	7: StatusFolderStale,
	8: StatusServerError,
}

var provisionStatusCodes = map[int]Status{
	1: StatusOK,
	2: StatusProtocolError,
	3: StatusServerError,
}

func decodeStatus(op, raw string, table map[int]Status) (Status, int, error) {
	if raw == "" {
		return StatusUnknown, 0, codecErr(op, "missing status")
	}
	code, err := strconv.Atoi(raw)
	if err != nil {
		return StatusUnknown, 0, codecErr(op, "non-numeric status %q", raw)
	}
	status, ok := table[code]
	if !ok {
		// Unknown codes are classified as server errors so callers retry
		// conservatively instead of resetting tokens.
		return StatusServerError, code, nil
	}
	return status, code, nil
}
