package eventstore

import (
	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
)

var (
	// ErrEventAppendFailed indicates appending an event failed.
	ErrEventAppendFailed = derrors.StorageError("failed to append event to store").Build()

	// ErrEventQueryFailed indicates querying events failed.
	ErrEventQueryFailed = derrors.StorageError("failed to query events from store").Build()

	// ErrMarshalPayloadFailed indicates JSON marshaling of an event payload failed.
	ErrMarshalPayloadFailed = derrors.StorageError("failed to marshal event payload").Build()
)
