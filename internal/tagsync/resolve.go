package tagsync

// resolveTitle picks the surviving title for a mapped entry present on both
// sides. A side that still matches the remembered title has not changed and
// loses to the side that did. When both sides changed, the remote side wins
// only if its own modification timestamp proves it changed after the last
// reconciliation; the local store has no usable modification timestamp, so
// it wins the remaining ambiguous cases.
func resolveTitle(entry Entry, local LocalItem, remote RemoteItem) string {
	localChanged := local.Title != entry.Title
	remoteChanged := remote.Title != entry.Title
	switch {
	case !localChanged && !remoteChanged:
		return entry.Title
	case localChanged && !remoteChanged:
		return local.Title
	case remoteChanged && !localChanged:
		return remote.Title
	default:
		if !remote.ModifiedAt.IsZero() && remote.ModifiedAt.After(entry.LastSyncedAt) {
			return remote.Title
		}
		return local.Title
	}
}

// resolvePath picks the surviving path. A single moved side wins; when both
// sides moved to different places the local side always wins, favoring
// direct user interaction over the remote store.
func resolvePath(entry Entry, localPath, remotePath string) string {
	localMoved := localPath != entry.Path
	remoteMoved := remotePath != entry.Path
	switch {
	case !localMoved && !remoteMoved:
		return entry.Path
	case localMoved && !remoteMoved:
		return localPath
	case remoteMoved && !localMoved:
		return remotePath
	default:
		return localPath
	}
}
