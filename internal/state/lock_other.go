//go:build !unix

package state

import "os"

func lock(f *os.File) error {
	return nil
}

func unlock(f *os.File) error {
	return nil
}
