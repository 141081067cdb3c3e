package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{
			name:    "bind error",
			code:    CodeBindInUse,
			wantMsg: "That port is already in use.",
			wantCat: CategoryBind,
		},
		{
			name:    "address error",
			code:    CodePortInvalid,
			wantMsg: "Port is not a number",
			wantCat: CategoryAddress,
		},
		{
			name:    "unknown error code",
			code:    "E999",
			wantMsg: "Unknown error",
			wantCat: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestMushroomError_Error(t *testing.T) {
	if got, want := New(CodeBindInUse).Error(), "E211: That port is already in use."; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got, want := New(CodePortInvalid).WithSubject("80a").Error(), "E201: Port is not a number (80a)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got := Newf(CategoryCLI, "bad %s", "flag").Error(); got != "bad flag" {
		t.Errorf("Error() = %q, want %q", got, "bad flag")
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, CodeConfigInvalid) != nil {
		t.Error("FromError(nil) should be nil")
	}

	cause := fmt.Errorf("read: %w", os.ErrNotExist)
	err := FromError(cause, CodeConfigParse)
	if err.Code != CodeConfigParse || !stderrors.Is(err, os.ErrNotExist) {
		t.Errorf("FromError = %v, want E122 wrapping ErrNotExist", err)
	}

	existing := New(CodeIPv6Invalid)
	if got := FromError(fmt.Errorf("parse: %w", existing), CodeConfigParse); got != existing {
		t.Error("FromError should return a wrapped MushroomError unchanged")
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("runserver: %w", New(CodeBindPermission))
	if !Is(err, CodeBindPermission) {
		t.Error("Is should find the code through wrapping")
	}
	if Is(err, CodeBindInUse) {
		t.Error("Is matched the wrong code")
	}
	if Is(stderrors.New("plain"), CodeBindInUse) {
		t.Error("Is matched a plain error")
	}
}

func TestBindError(t *testing.T) {
	tests := []struct {
		errno syscall.Errno
		code  string
		msg   string
	}{
		{syscall.EACCES, CodeBindPermission, "You don't have permission to access that port."},
		{syscall.EADDRINUSE, CodeBindInUse, "That port is already in use."},
		{syscall.EADDRNOTAVAIL, CodeBindNotAvailable, "That IP address can't be assigned-to."},
		{syscall.ECONNREFUSED, CodeBindFailed, "Could not start the listener"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			opErr := &net.OpError{Op: "listen", Net: "tcp", Err: os.NewSyscallError("bind", tt.errno)}
			err := BindError(opErr, "127.0.0.1:8000")
			if err.Code != tt.code || err.Message != tt.msg {
				t.Errorf("BindError = %s %q, want %s %q", err.Code, err.Message, tt.code, tt.msg)
			}
			if err.Subject != "127.0.0.1:8000" {
				t.Errorf("Subject = %q", err.Subject)
			}
			if !stderrors.Is(err, tt.errno) {
				t.Error("BindError should keep the errno reachable")
			}
		})
	}

	if BindError(nil, "x") != nil {
		t.Error("BindError(nil) should be nil")
	}
}

func TestBindError_RealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	defer ln.Close()

	_, err = net.Listen("tcp", ln.Addr().String())
	if got := BindError(err, ln.Addr().String()); got.Code != CodeBindInUse {
		t.Errorf("BindError code = %s, want %s", got.Code, CodeBindInUse)
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New(CodeBindInUse).
		WithSubject("127.0.0.1:8000").
		WithExample("mushroom runserver 8001").
		Wrap(stderrors.New("bind: address already in use"))
	out := err.Format()

	for _, want := range []string{
		"ERROR E211: That port is already in use.",
		"127.0.0.1:8000",
		"Cause: bind: address already in use",
		"Hint: Stop the other process",
		"Example:",
		"    mushroom runserver 8001",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("Format() contains ANSI codes with colors disabled")
	}
}

func TestFormatCompact(t *testing.T) {
	err := New(CodeIPv6Invalid).WithSubject("[::g]").Wrap(stderrors.New("bad"))
	if got, want := err.FormatCompact(), "E202: Address is not a valid IPv6 address ([::g]): bad"; got != want {
		t.Errorf("FormatCompact() = %q, want %q", got, want)
	}
}

func TestPluginSkipped(t *testing.T) {
	err := PluginSkipped("blog", stderrors.New("import failed"))
	if !Is(err, CodePluginSkipped) {
		t.Fatalf("PluginSkipped code = %s, want %s", err.Code, CodePluginSkipped)
	}
	if got, want := err.FormatCompact(), "E230: Installed app was skipped (blog): import failed"; got != want {
		t.Errorf("FormatCompact() = %q, want %q", got, want)
	}
}

func TestFprint(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	Fprint(&buf, fmt.Errorf("wrapped: %w", New(CodeNoFunctions)))
	if !strings.Contains(buf.String(), "ERROR E232") {
		t.Errorf("Fprint(MushroomError) = %q", buf.String())
	}

	buf.Reset()
	Fprint(&buf, stderrors.New("plain failure"))
	if !strings.Contains(buf.String(), "ERROR: plain failure") {
		t.Errorf("Fprint(plain) = %q", buf.String())
	}
}

func TestRegistry(t *testing.T) {
	codes := GetAllCodes()
	if len(codes) == 0 {
		t.Fatal("no registered codes")
	}
	for i := 1; i < len(codes); i++ {
		if codes[i-1] >= codes[i] {
			t.Fatalf("codes not sorted: %v", codes)
		}
	}

	Register("E900", ErrorTemplate{Category: CategoryCLI, Message: "custom"})
	if tmpl, ok := GetTemplate("E900"); !ok || tmpl.Message != "custom" {
		t.Errorf("GetTemplate(E900) = %+v, %v", tmpl, ok)
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  []string
	}{
		{"", 10, nil},
		{"short", 10, []string{"short"}},
		{"one two three four", 9, []string{"one two", "three", "four"}},
	}
	for _, tt := range tests {
		got := wrapText(tt.text, tt.width)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
		}
	}
}
