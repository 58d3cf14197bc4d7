// Package device captures from real audio hardware through PortAudio and
// miniaudio.
package device

import (
	"errors"

	"github.com/frosk-go/frosk/internal/audio"
)

// List returns the input devices of both backends. A backend that fails to
// enumerate is skipped; the error is returned only when both fail.
func List() ([]audio.Device, error) {
	pa, paErr := ListPortAudio()
	ma, maErr := ListMiniaudio()
	if paErr != nil && maErr != nil {
		return nil, errors.Join(paErr, maErr)
	}
	return append(pa, ma...), nil
}
