//go:build !linux

package clipboard

func Type(string) error {
	return ErrUnsupported
}
