// Package fusefs exposes cached artifacts as read-only files under a mount
// point, grounded on the teacher's internal/fusefs package: the same
// bazil.org/fuse mount lifecycle and stale-mount detach, with RawFS's
// NZB-backed node tree replaced by one backed directly by
// internal/rangetracker and internal/blobstore.
package fusefs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"golang.org/x/sys/unix"
)

// MountOptions configures a single FUSE mount.
type MountOptions struct {
	Mountpoint string
	AllowOther bool
}

// Mount owns the lifetime of one active FUSE connection.
type Mount struct {
	conn *fuse.Conn
}

func (m *Mount) Close() error {
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

// Start mounts filesystem at opts.Mountpoint and serves it until ctx is done.
func Start(ctx context.Context, opts MountOptions, filesystem fs.FS) (*Mount, error) {
	if opts.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint required")
	}

	// On container restarts, FUSE mountpoints can be left behind in a
	// disconnected state ("Transport endpoint is not connected"). Best-effort
	// detach any existing mount so we can mount cleanly.
	detachStaleMount(opts.Mountpoint)

	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, err
	}
	mountOpts := []fuse.MountOption{
		fuse.ReadOnly(),
		fuse.FSName("rangecache"),
		fuse.Subtype("rangecache"),
	}
	if opts.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}
	c, err := fuse.Mount(opts.Mountpoint, mountOpts...)
	if err != nil {
		return nil, err
	}
	m := &Mount{conn: c}
	go func() {
		_ = fs.Serve(c, filesystem)
	}()
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	return m, nil
}

// MountArtifacts mounts an ArtifactsFS at mountpoint.
func MountArtifacts(ctx context.Context, mountpoint string, afs *ArtifactsFS) (*Mount, error) {
	return Start(ctx, MountOptions{Mountpoint: mountpoint, AllowOther: true}, afs)
}

func detachStaleMount(mp string) {
	if strings.TrimSpace(mp) == "" {
		return
	}
	for i := 0; i < 3; i++ {
		_ = unix.Unmount(mp, unix.MNT_DETACH)
		_, _ = exec.Command("fusermount3", "-uz", mp).CombinedOutput()
		_, _ = exec.Command("umount", "-l", mp).CombinedOutput()
		time.Sleep(150 * time.Millisecond)
	}
}
