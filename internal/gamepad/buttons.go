package gamepad

import (
	"fmt"
	"strings"

	"github.com/luciancaetano/padrelay"
)

// Kind names a virtual controller model.
type Kind string

const (
	KindXbox360 Kind = "xbox360"
	KindDS4     Kind = "ds4"
)

// ParseKind accepts a controller model name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindXbox360, "":
		return KindXbox360, nil
	case KindDS4:
		return KindDS4, nil
	}
	return "", fmt.Errorf("unknown gamepad type %q", s)
}

var xbox360Buttons = map[int]padrelay.Button{
	0:  "XUSB_GAMEPAD_A",
	1:  "XUSB_GAMEPAD_B",
	2:  "XUSB_GAMEPAD_X",
	3:  "XUSB_GAMEPAD_Y",
	4:  "XUSB_GAMEPAD_LEFT_SHOULDER",
	5:  "XUSB_GAMEPAD_RIGHT_SHOULDER",
	6:  "XUSB_GAMEPAD_BACK",
	7:  "XUSB_GAMEPAD_START",
	8:  "XUSB_GAMEPAD_LEFT_THUMB",
	9:  "XUSB_GAMEPAD_RIGHT_THUMB",
	10: "XUSB_GAMEPAD_DPAD_UP",
	11: "XUSB_GAMEPAD_DPAD_DOWN",
	12: "XUSB_GAMEPAD_DPAD_LEFT",
	13: "XUSB_GAMEPAD_DPAD_RIGHT",
	14: "XUSB_GAMEPAD_GUIDE",
}

var ds4Buttons = map[int]padrelay.Button{
	0:  "DS4_BUTTON_CROSS",
	1:  "DS4_BUTTON_CIRCLE",
	2:  "DS4_BUTTON_SQUARE",
	3:  "DS4_BUTTON_TRIANGLE",
	4:  "DS4_BUTTON_SHOULDER_LEFT",
	5:  "DS4_BUTTON_SHOULDER_RIGHT",
	6:  "DS4_BUTTON_SHARE",
	7:  "DS4_BUTTON_OPTIONS",
	8:  "DS4_BUTTON_THUMB_LEFT",
	9:  "DS4_BUTTON_THUMB_RIGHT",
	10: "DS4_BUTTON_TRIGGER_LEFT",
	11: "DS4_BUTTON_TRIGGER_RIGHT",
}

// DefaultButtonMap returns a fresh copy of the built-in mapping for k.
func DefaultButtonMap(k Kind) map[int]padrelay.Button {
	src := xbox360Buttons
	if k == KindDS4 {
		src = ds4Buttons
	}
	out := make(map[int]padrelay.Button, len(src))
	for i, b := range src {
		out[i] = b
	}
	return out
}
