package offlinestore

import "errors"

// ErrSyncInProgress is returned when Sync is called while a previous
// call is still draining the queue, per spec.md §4.7 ("while sync is
// already running, refuse overlapping sync").
var ErrSyncInProgress = errors.New("offlinestore: sync already in progress")
