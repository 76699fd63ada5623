package lease

import (
	"mvlease/internal/status"
)

// ResolveStatus reports one status for the requested definition version of an index
// given the status of the latest tracked version:
//
//  1. a failed latest version fails the index, whatever was requested;
//  2. a queryable requested version with a non-queryable latest version is
//     recovering, not failed, so callers must not start another rebuild;
//  3. otherwise the requested status is reported as is.
func ResolveStatus(requested, latest VersionStatus) status.IndexStatus {
	if latest.StatusCode == status.Failed {
		return status.FailedStatus("latest index definition version failed")
	}
	if requested.IsQueryable && !latest.IsQueryable {
		return status.RecoveringTransientStatus("newer index definition version is not yet queryable")
	}
	return status.New(requested.StatusCode)
}
