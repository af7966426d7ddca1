package cli

import (
	syncerrors "github.com/lucidfs/davsync/internal/errors"
)

// Exit codes, grouped the way the teacher groups its own ExitXxx constants.
const (
	ExitSuccess = 0

	ExitAuthenticationRequired = 10

	ExitStorage          = 20
	ExitProtocol         = 21
	ExitUnexpectedStatus = 22

	ExitNetwork = 30

	ExitInvalidArgument = 40

	ExitCancelled = 50

	ExitUnknown = 99
)

// exitCodeForError maps a SyncError's Kind to a process exit code; any
// other error (including none of the above) exits ExitUnknown.
func exitCodeForError(err error) int {
	kind, ok := syncerrors.KindOf(err)
	if !ok {
		return ExitUnknown
	}
	switch kind {
	case syncerrors.KindAuthenticationRequired:
		return ExitAuthenticationRequired
	case syncerrors.KindStorage:
		return ExitStorage
	case syncerrors.KindProtocol:
		return ExitProtocol
	case syncerrors.KindUnexpectedStatus:
		return ExitUnexpectedStatus
	case syncerrors.KindNetwork:
		return ExitNetwork
	case syncerrors.KindInvalidArgument:
		return ExitInvalidArgument
	case syncerrors.KindCancelled:
		return ExitCancelled
	default:
		return ExitUnknown
	}
}

// cliErrorFromErr renders err as a CLIError for the JSON envelope.
func cliErrorFromErr(err error) CLIError {
	if se, ok := syncerrors.As(err); ok {
		return CLIError{Code: string(se.Kind), Message: se.Message}
	}
	return CLIError{Code: "UNKNOWN", Message: err.Error()}
}
