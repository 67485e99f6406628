//go:build darwin

// Copy-on-write mount via APFS clonefile(2), grounded on
// original_source/crates/apl-core/src/sysroot.rs's direct FFI binding to
// the same syscall. golang.org/x/sys/unix doesn't wrap clonefile as of the
// version this module pins, so this calls it the same way its predecessor's
// pack already depends on golang.org/x/sys/unix for raw syscalls:
// unix.Syscall against the Darwin syscall number.
package sandbox

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sysCloneFile is the Darwin clonefile(2) syscall number (unchanged since
// its introduction in macOS 10.12).
const sysCloneFile = 462

const cloneNoFollow = 0x0001

const supportsCoW = true

func cloneTree(src, dst string) error {
	srcPtr, err := unix.BytePtrFromString(src)
	if err != nil {
		return err
	}
	dstPtr, err := unix.BytePtrFromString(dst)
	if err != nil {
		return err
	}
	_, _, errno := unix.Syscall(sysCloneFile,
		uintptr(unsafe.Pointer(srcPtr)),
		uintptr(unsafe.Pointer(dstPtr)),
		cloneNoFollow)
	if errno != 0 {
		if errno == unix.ENOTSUP || errno == unix.EXDEV {
			return copyTree(src, dst)
		}
		return fmt.Errorf("sandbox: clonefile: %w", errno)
	}
	return nil
}
