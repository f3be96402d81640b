package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// scanAdapter is the portable periodic-scan fallback (spec §4.7): it
// requires no OS-specific API and runs on any platform, used whenever
// WithForceScan is set or no native backend is available.
type scanAdapter struct {
	interval time.Duration
}

func newScanAdapter(o Options) adapter {
	iv := o.pollInterval
	if iv <= 0 {
		iv = 16 * time.Millisecond
	}
	return &scanAdapter{interval: iv}
}

// bucket is one tracked filesystem entry's last-observed state.
type bucket struct {
	info fs.FileInfo
	kind PathType
}

func (a *scanAdapter) run(root string, emit Callback, living func() bool) bool {
	emit(sentinelLive(root))

	prev, err := scanTree(root)
	if err != nil {
		emit(selfSentinel(tagSysResource, root, err))
		emit(sentinelDie(root, true))
		return false
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for living() {
		<-ticker.C
		if !living() {
			break
		}

		cur, err := scanTree(root)
		if err != nil {
			if os.IsNotExist(err) {
				emit(newEvent(root, Destroy, prev[root].kind))
				emit(sentinelDie(root, true))
				return false
			}
			emit(selfSentinel(tagSysResource, root, err))
			emit(sentinelDie(root, true))
			return false
		}

		diffTrees(prev, cur, emit)
		prev = cur
	}

	emit(sentinelDie(root, false))
	return true
}

// scanTree walks root and returns a snapshot keyed by path, following
// directory symlinks per spec §4.7's follow_directory_symlink behavior
// (matching fanotifyMarkTree's own symlink-following walk).
func scanTree(root string) (map[string]bucket, error) {
	out := make(map[string]bucket)

	rootInfo, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	out[root] = bucket{info: rootInfo, kind: classify(rootInfo)}

	if !rootInfo.IsDir() {
		return out, nil
	}

	visited := make(map[[2]uint64]struct{})
	markVisited(rootInfo, visited)
	if err := scanWalk(root, visited, out); err != nil {
		return nil, err
	}
	return out, nil
}

// scanWalk lists the directory at path and recurses into every
// subdirectory, following symlinked directories per spec §4.7;
// visited's dev/ino tracking guards against symlink cycles.
func scanWalk(path string, visited map[[2]uint64]struct{}, out map[string]bucket) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		childPath := filepath.Join(path, e.Name())
		info, err := os.Lstat(childPath)
		if err != nil {
			if os.IsPermission(err) || os.IsNotExist(err) {
				continue
			}
			return err
		}
		out[childPath] = bucket{info: info, kind: classify(info)}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Stat(childPath)
			if err != nil || !target.IsDir() {
				continue
			}
			if !markVisited(target, visited) {
				continue
			}
			if err := scanWalk(childPath, visited, out); err != nil {
				return err
			}
			continue
		}

		if info.IsDir() {
			if !markVisited(info, visited) {
				continue
			}
			if err := scanWalk(childPath, visited, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// markVisited records info's device/inode pair and reports whether it
// was new; a repeat indicates a symlink cycle.
func markVisited(info os.FileInfo, visited map[[2]uint64]struct{}) bool {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return true
	}
	key := [2]uint64{uint64(st.Dev), st.Ino}
	if _, seen := visited[key]; seen {
		return false
	}
	visited[key] = struct{}{}
	return true
}

func classify(info os.FileInfo) PathType {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return SymLink
	case info.IsDir():
		return Dir
	default:
		return File
	}
}

// diffTrees compares two snapshots and emits Create/Modify/Destroy
// events, using os.SameFile to infer a rename when a destroyed path's
// identity reappears at a different path in the same scan (spec §4.7).
func diffTrees(prev, cur map[string]bucket, emit Callback) {
	destroyed := make([]string, 0)

	for path, b := range prev {
		if _, ok := cur[path]; !ok {
			destroyed = append(destroyed, path)
			_ = b
		}
	}

	for path, cb := range cur {
		pb, existed := prev[path]
		if !existed {
			if renamedFrom, ok := matchRename(destroyed, prev, cb); ok {
				emit(newEvent(path, Rename, cb.kind))
				removeDestroyed(&destroyed, renamedFrom)
				continue
			}
			emit(newEvent(path, Create, cb.kind))
			continue
		}
		// Only regular files carry modify semantics (spec §4.7): a
		// directory's mtime changes whenever a child is added or
		// removed, which is already reported as that child's own
		// create/destroy event and would otherwise double-report as a
		// spurious modify on the parent.
		if cb.kind != File {
			continue
		}
		if pb.info.ModTime() != cb.info.ModTime() || pb.info.Size() != cb.info.Size() {
			emit(newEvent(path, Modify, cb.kind))
		}
	}

	for _, path := range destroyed {
		emit(newEvent(path, Destroy, prev[path].kind))
	}
}

// matchRename looks for a destroyed path whose file identity (device +
// inode, via os.SameFile) matches the newly-appeared entry, implying a
// rename rather than an independent create+delete pair.
func matchRename(destroyed []string, prev map[string]bucket, cur bucket) (string, bool) {
	for _, d := range destroyed {
		if pb, ok := prev[d]; ok && os.SameFile(pb.info, cur.info) {
			return d, true
		}
	}
	return "", false
}

func removeDestroyed(destroyed *[]string, path string) {
	for i, d := range *destroyed {
		if d == path {
			*destroyed = append((*destroyed)[:i], (*destroyed)[i+1:]...)
			return
		}
	}
}
