//go:build linux

package watcher

import (
	"regexp"
	"strconv"

	"golang.org/x/sys/unix"
)

// kernelVersion holds a parsed major.minor.patch Linux release number.
type kernelVersion struct {
	major, minor, patch int
}

func (v kernelVersion) atLeast(major, minor int) bool {
	if v.major != major {
		return v.major > major
	}
	return v.minor >= minor
}

var kernelVersionRe = regexp.MustCompile(`([0-9]+)`)

// currentKernelVersion parses uname's release string, grounded on the
// teacher's backend_fanotify_event.go kernelVersion() helper.
func currentKernelVersion() (kernelVersion, error) {
	var sysinfo unix.Utsname
	if err := unix.Uname(&sysinfo); err != nil {
		return kernelVersion{}, err
	}

	release := string(sysinfo.Release[:])
	parts := kernelVersionRe.FindAllString(release, 3)

	var v kernelVersion
	var err error
	if len(parts) > 0 {
		if v.major, err = strconv.Atoi(parts[0]); err != nil {
			return kernelVersion{}, err
		}
	}
	if len(parts) > 1 {
		if v.minor, err = strconv.Atoi(parts[1]); err != nil {
			return kernelVersion{}, err
		}
	}
	if len(parts) > 2 {
		v.patch, _ = strconv.Atoi(parts[2])
	}
	return v, nil
}
