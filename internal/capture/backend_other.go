//go:build !(windows && (amd64 || arm64))

package capture

// DefaultBackend returns the platform backend; process loopback is only
// implemented on Windows.
func DefaultBackend() Backend {
	return unsupportedBackend{}
}

type unsupportedBackend struct{}

func (unsupportedBackend) ActivateProcessLoopback(uint32, func()) (Activation, error) {
	return nil, ErrUnsupported
}
