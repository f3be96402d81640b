//go:build linux

// Package caps probes the calling process's Linux capabilities.
//
// Two independent probes are kept, both grounded on the teacher's
// capabilities_linux.go and go.mod: a direct Capget-based check (the
// V3-only path modern kernels use; older V1/V2 struct variants the
// teacher supported are not carried here, since nothing in this module
// runs on a pre-2.6.26 kernel) and a github.com/syndtr/gocapability
// probe kept as a second, independent source of the same fact.
package caps

import (
	"os"

	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"
)

// IsSysAdmin reports whether the calling process has CAP_SYS_ADMIN in
// its effective set, probed directly via Capget.
func IsSysAdmin() (bool, error) {
	var header unix.CapUserHeader
	if err := unix.Capget(&header, nil); err != nil {
		return false, err
	}
	if header.Version != unix.LINUX_CAPABILITY_VERSION_3 {
		header.Version = unix.LINUX_CAPABILITY_VERSION_3
	}
	header.Pid = int32(os.Getpid())

	var data [2]unix.CapUserData
	if err := unix.Capget(&header, &data[0]); err != nil {
		return false, err
	}

	bit := unix.CAP_SYS_ADMIN
	idx, shift := 0, uint(bit)
	if bit > 31 {
		idx, shift = 1, uint(bit%32)
	}
	return (1<<shift)&data[idx].Effective != 0, nil
}

// HasSysAdmin probes CAP_SYS_ADMIN via github.com/syndtr/gocapability,
// independently of IsSysAdmin's direct Capget path.
func HasSysAdmin() (bool, error) {
	c, err := capability.NewPid2(0)
	if err != nil {
		return false, err
	}
	if err := c.Load(); err != nil {
		return false, err
	}
	return c.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN), nil
}
