//go:build linux

package watcher

import "golang.org/x/sys/unix"

func epollAdd(epfd, fd int) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: unix.EPOLLIN}
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}
