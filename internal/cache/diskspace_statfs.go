//go:build linux || darwin || freebsd

package cache

import "golang.org/x/sys/unix"

// freeSpace reports the bytes available to unprivileged users on the
// filesystem holding dir.
func freeSpace(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
