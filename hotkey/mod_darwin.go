package hotkey

import "golang.design/x/hotkey"

// Option is the Alt key on macOS keyboards.
const altModifier = hotkey.ModOption
