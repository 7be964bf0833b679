package hotkey

import (
	"fmt"
	"strings"
)

// Modifier is a set of modifier keys.
type Modifier uint8

const (
	ModShift Modifier = 1 << iota
	ModCtrl
	ModAlt
	ModSuper
)

// Accelerator is a parsed key combination such as "Ctrl+Shift+R".
type Accelerator struct {
	Mods Modifier
	Key  string // lower case: "a".."z", "0".."9", "space", "return", "tab", "f1".."f12"
}

var modifierNames = map[string]Modifier{
	"shift":   ModShift,
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"alt":     ModAlt,
	"option":  ModAlt,
	"super":   ModSuper,
	"cmd":     ModSuper,
	"command": ModSuper,
	"meta":    ModSuper,
}

var keyAliases = map[string]string{
	"enter": "return",
	"esc":   "escape",
}

// ParseAccelerator parses "Mod+Mod+Key". Names are case insensitive and
// exactly one non-modifier key is required.
func ParseAccelerator(s string) (Accelerator, error) {
	var a Accelerator
	parts := strings.Split(s, "+")
	for i, p := range parts {
		name := strings.ToLower(strings.TrimSpace(p))
		if name == "" {
			return Accelerator{}, fmt.Errorf("invalid accelerator %q: empty key", s)
		}
		if m, ok := modifierNames[name]; ok && i < len(parts)-1 {
			a.Mods |= m
			continue
		}
		if i != len(parts)-1 {
			return Accelerator{}, fmt.Errorf("invalid accelerator %q: unknown modifier %q", s, p)
		}
		if alias, ok := keyAliases[name]; ok {
			name = alias
		}
		if !validKey(name) {
			return Accelerator{}, fmt.Errorf("invalid accelerator %q: unsupported key %q", s, p)
		}
		a.Key = name
	}
	return a, nil
}

func validKey(k string) bool {
	switch {
	case len(k) == 1 && (k[0] >= 'a' && k[0] <= 'z' || k[0] >= '0' && k[0] <= '9'):
		return true
	case k == "space" || k == "return" || k == "tab" || k == "escape":
		return true
	}
	_, ok := functionKeys[k]
	return ok
}

var functionKeys = map[string]int{
	"f1": 1, "f2": 2, "f3": 3, "f4": 4, "f5": 5, "f6": 6,
	"f7": 7, "f8": 8, "f9": 9, "f10": 10, "f11": 11, "f12": 12,
}

func (a Accelerator) String() string {
	var parts []string
	for _, m := range []struct {
		mod  Modifier
		name string
	}{{ModCtrl, "Ctrl"}, {ModAlt, "Alt"}, {ModShift, "Shift"}, {ModSuper, "Super"}} {
		if a.Mods&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	key := a.Key
	if len(key) > 1 {
		key = strings.ToUpper(key[:1]) + key[1:]
	} else {
		key = strings.ToUpper(key)
	}
	return strings.Join(append(parts, key), "+")
}

// X11 modifier masks.
const (
	x11ShiftMask   = 1
	x11ControlMask = 4
	x11Mod1Mask    = 8  // Alt
	x11Mod4Mask    = 64 // Super
)

// x11Key returns the X keysym name and modifier mask for a.
func x11Key(a Accelerator) (string, int) {
	var mask int
	if a.Mods&ModShift != 0 {
		mask |= x11ShiftMask
	}
	if a.Mods&ModCtrl != 0 {
		mask |= x11ControlMask
	}
	if a.Mods&ModAlt != 0 {
		mask |= x11Mod1Mask
	}
	if a.Mods&ModSuper != 0 {
		mask |= x11Mod4Mask
	}

	switch a.Key {
	case "return":
		return "Return", mask
	case "tab":
		return "Tab", mask
	case "escape":
		return "Escape", mask
	}
	if _, ok := functionKeys[a.Key]; ok {
		return strings.ToUpper(a.Key), mask
	}
	return a.Key, mask
}

// Carbon modifier flags.
const (
	carbonCmdKey     = 0x100
	carbonShiftKey   = 0x200
	carbonOptionKey  = 0x800
	carbonControlKey = 0x1000
)

// Carbon virtual key codes, ANSI layout.
var carbonKeyCodes = map[string]uint32{
	"a": 0, "s": 1, "d": 2, "f": 3, "h": 4, "g": 5, "z": 6, "x": 7, "c": 8, "v": 9,
	"b": 11, "q": 12, "w": 13, "e": 14, "r": 15, "y": 16, "t": 17,
	"1": 18, "2": 19, "3": 20, "4": 21, "6": 22, "5": 23, "9": 25, "7": 26, "8": 28, "0": 29,
	"o": 31, "u": 32, "i": 34, "p": 35, "l": 37, "j": 38, "k": 40, "n": 45, "m": 46,
	"return": 36, "tab": 48, "space": 49, "escape": 53,
	"f1": 122, "f2": 120, "f3": 99, "f4": 118, "f5": 96, "f6": 97,
	"f7": 98, "f8": 100, "f9": 101, "f10": 109, "f11": 103, "f12": 111,
}

// carbonKey returns the Carbon key code and modifier flags for a.
func carbonKey(a Accelerator) (code, mods uint32, err error) {
	code, ok := carbonKeyCodes[a.Key]
	if !ok {
		return 0, 0, fmt.Errorf("no key code for %q", a.Key)
	}
	if a.Mods&ModShift != 0 {
		mods |= carbonShiftKey
	}
	if a.Mods&ModCtrl != 0 {
		mods |= carbonControlKey
	}
	if a.Mods&ModAlt != 0 {
		mods |= carbonOptionKey
	}
	if a.Mods&ModSuper != 0 {
		mods |= carbonCmdKey
	}
	return code, mods, nil
}
