// Package permissions gates audio capture on platforms that require user
// consent for microphone access.
package permissions

import "errors"

var ErrMicrophoneDenied = errors.New("permissions: microphone permission not granted")
