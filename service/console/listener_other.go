//go:build !unix

package console

func isResourceExhausted(err error) bool {
	return false
}
