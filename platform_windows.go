//go:build windows

package watcher

func platformAdapter(o Options) adapter { return newRDCWAdapter(o) }
