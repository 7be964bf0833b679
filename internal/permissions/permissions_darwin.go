//go:build darwin && cgo

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation -framework Cocoa
#import <AVFoundation/AVFoundation.h>
#import <Cocoa/Cocoa.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}

int checkAccessibilityPermission() {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

import (
	"errors"

	"github.com/rs/zerolog"
)

// Status is the macOS authorization status of a capture device.
type Status int

const (
	PermissionNotDetermined Status = 0
	PermissionRestricted    Status = 1
	PermissionDenied        Status = 2
	PermissionAuthorized    Status = 3
)

var (
	ErrMicrophone    = errors.New("microphone permission not granted")
	ErrAccessibility = errors.New("accessibility permission not granted")
)

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() Status {
	return Status(C.checkMicrophonePermission())
}

// RequestMicrophone triggers the system microphone permission dialog
func RequestMicrophone() {
	C.requestMicrophonePermission()
}

// CheckAccessibility checks if the app has accessibility permissions (needed
// for the global hotkey). It prompts the user when they are missing.
func CheckAccessibility() bool {
	return C.checkAccessibilityPermission() == 1
}

// EnsurePermissions checks and requests the permissions the looper needs.
// Without microphone access the input devices record silence; without
// accessibility the global hotkey does not fire.
func EnsurePermissions(log zerolog.Logger) error {
	var errs []error

	if status := CheckMicrophone(); status != PermissionAuthorized {
		log.Warn().Int("status", int(status)).Msg("Microphone permission required")
		if status == PermissionNotDetermined {
			RequestMicrophone()
		}
		errs = append(errs, ErrMicrophone)
	}

	if !CheckAccessibility() {
		log.Warn().Msg("Accessibility permission required for the record hotkey, " +
			"see System Settings > Privacy & Security > Accessibility")
		errs = append(errs, ErrAccessibility)
	}

	return errors.Join(errs...)
}
