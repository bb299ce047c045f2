package journal

import (
	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
)

var (
	// ErrOpenFailed indicates the SQLite database could not be opened.
	ErrOpenFailed = ferrors.JournalError("could not open journal database").Build()

	// ErrSchemaFailed indicates the schema could not be created.
	ErrSchemaFailed = ferrors.JournalError("failed to initialize journal schema").Build()

	// ErrAppendFailed indicates an event could not be recorded.
	ErrAppendFailed = ferrors.JournalError("failed to append event to journal").Build()

	// ErrQueryFailed indicates reading entries failed.
	ErrQueryFailed = ferrors.JournalError("failed to query journal").Build()

	// ErrUnknownType indicates an entry whose type has no event struct.
	ErrUnknownType = ferrors.JournalError("unknown journal entry type").Build()
)

func wrap(sentinel *ferrors.ClassifiedError, err error) error {
	return ferrors.WrapError(err, ferrors.CategoryJournal, sentinel.Message()).Build()
}
