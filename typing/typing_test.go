package typing

import (
	"errors"
	"reflect"
	"testing"

	"dictate/clipboard"
)

type fakeInjector struct {
	calls    []string
	typeErr  error
	pasteErr error
	clip     *fakeClipboard
}

func (f *fakeInjector) Type(text string) error {
	f.calls = append(f.calls, "type:"+text)
	return f.typeErr
}

func (f *fakeInjector) Paste() error {
	content := ""
	if f.clip != nil {
		content = f.clip.content
	}
	f.calls = append(f.calls, "paste:"+content)
	return f.pasteErr
}

type fakeClipboard struct {
	content  string
	readErr  error
	writeErr error
	writes   []string
}

func (f *fakeClipboard) Read() (string, error) {
	if f.readErr != nil {
		return "", f.readErr
	}
	return f.content, nil
}

func (f *fakeClipboard) Write(text string) error {
	f.writes = append(f.writes, text)
	if f.writeErr != nil {
		return f.writeErr
	}
	f.content = text
	return nil
}

var (
	_ Injector       = (*fakeInjector)(nil)
	_ ClipboardStore = (*fakeClipboard)(nil)
)

func TestModeString(t *testing.T) {
	if Direct.String() != "Direct" || Clipboard.String() != "Clipboard" {
		t.Errorf("modes = %s, %s", Direct, Clipboard)
	}
}

func TestSystemBackends(t *testing.T) {
	inj, clip := System()
	if inj == nil || clip == nil {
		t.Fatal("System returned a nil backend")
	}
	if d := New(inj, clip, 0); d.clip != clip {
		t.Error("dispatcher does not use the given clipboard")
	}
}

func TestDispatchDirect(t *testing.T) {
	inj := &fakeInjector{}
	d := New(inj, &fakeClipboard{}, 0)

	if err := d.Dispatch("  hello world \n", Direct); err != nil {
		t.Fatal(err)
	}
	want := []string{"type:hello world "}
	if !reflect.DeepEqual(inj.calls, want) {
		t.Errorf("calls = %q, want %q", inj.calls, want)
	}
}

func TestDispatchEmptyIsNoop(t *testing.T) {
	inj := &fakeInjector{}
	clip := &fakeClipboard{}
	d := New(inj, clip, 0)
	for _, mode := range []Mode{Direct, Clipboard} {
		if err := d.Dispatch("   ", mode); err != nil {
			t.Fatal(err)
		}
	}
	if len(inj.calls) != 0 || len(clip.writes) != 0 {
		t.Errorf("calls=%q writes=%q", inj.calls, clip.writes)
	}
}

func TestDispatchClipboardRestores(t *testing.T) {
	clip := &fakeClipboard{content: "previous"}
	inj := &fakeInjector{clip: clip}
	d := New(inj, clip, 0)

	if err := d.Dispatch("hi", Clipboard); err != nil {
		t.Fatal(err)
	}
	if want := []string{"paste:hi "}; !reflect.DeepEqual(inj.calls, want) {
		t.Errorf("calls = %q, want %q", inj.calls, want)
	}
	if clip.content != "previous" {
		t.Errorf("clipboard = %q, want restored %q", clip.content, "previous")
	}
}

func TestDispatchClipboardReadFailure(t *testing.T) {
	clip := &fakeClipboard{content: "secret", readErr: errors.New("no display")}
	inj := &fakeInjector{clip: clip}
	d := New(inj, clip, 0)

	if err := d.Dispatch("hi", Clipboard); err != nil {
		t.Fatal(err)
	}
	if want := []string{"hi "}; !reflect.DeepEqual(clip.writes, want) {
		t.Errorf("writes = %q, want %q (no restore without a captured value)", clip.writes, want)
	}
	if len(inj.calls) != 1 {
		t.Errorf("paste not issued: %q", inj.calls)
	}
}

func TestDispatchClipboardWriteFailureStillPastes(t *testing.T) {
	clip := &fakeClipboard{content: "old", writeErr: errors.New("locked")}
	inj := &fakeInjector{clip: clip}
	d := New(inj, clip, 0)

	if err := d.Dispatch("hi", Clipboard); err != nil {
		t.Fatal(err)
	}
	if len(inj.calls) != 1 {
		t.Fatalf("paste not issued: %q", inj.calls)
	}
	if len(clip.writes) != 1 {
		t.Errorf("restore attempted after failed write: %q", clip.writes)
	}
}

func TestDispatchInjectionError(t *testing.T) {
	clip := &fakeClipboard{content: "old"}
	inj := &fakeInjector{clip: clip, pasteErr: errors.New("uinput")}
	d := New(inj, clip, 0)

	if err := d.Dispatch("hi", Clipboard); err == nil {
		t.Fatal("expected paste error")
	}
	if clip.content != "old" {
		t.Errorf("clipboard not restored after failed paste: %q", clip.content)
	}

	inj.typeErr = errors.New("boom")
	if err := d.Dispatch("hi", Direct); err == nil {
		t.Fatal("expected type error")
	}
}

func TestDispatchDirectUnsupportedFallsBack(t *testing.T) {
	clip := &fakeClipboard{content: "old"}
	inj := &fakeInjector{clip: clip, typeErr: clipboard.ErrUnsupported}
	d := New(inj, clip, 0)

	if err := d.Dispatch("hi", Direct); err != nil {
		t.Fatal(err)
	}
	want := []string{"type:hi ", "paste:hi "}
	if !reflect.DeepEqual(inj.calls, want) {
		t.Errorf("calls = %q, want %q", inj.calls, want)
	}
}
