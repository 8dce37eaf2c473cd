//go:build !linux && !darwin

package transport

func isPermissionDenied(err error) bool  { return false }
func isAlreadyRegistered(err error) bool { return false }
func isWouldBlock(err error) bool        { return false }
