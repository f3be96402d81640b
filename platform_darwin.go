//go:build darwin

package watcher

func platformAdapter(o Options) adapter { return newFSEventsAdapter(o) }
