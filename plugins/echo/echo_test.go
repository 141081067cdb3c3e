package echo

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/vango-dev/mushroom/pkg/plugin"
	"github.com/vango-dev/mushroom/pkg/vtest"
)

func TestFunctions(t *testing.T) {
	ds, err := Functions()
	if err != nil {
		t.Fatalf("Functions() error: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("len(Functions()) = %d, want 2", len(ds))
	}
	vtest.ExpectCapability(t, vtest.Find(t, ds, "echo"), plugin.CapRPC)
	vtest.ExpectCapability(t, vtest.Find(t, ds, "upper"), plugin.CapRPC)
}

func TestEcho(t *testing.T) {
	host := vtest.NewHost().Build()
	tests := []struct {
		name string
		data any
		want string
	}{
		{"string", "hello", `"hello"`},
		{"object", map[string]int{"n": 1}, `{"n":1}`},
		{"array", []int{1, 2}, `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := vtest.Call(t, host, Echo, tt.data).(json.RawMessage)
			if !ok || string(got) != tt.want {
				t.Fatalf("Echo() = %s, want %s", got, tt.want)
			}
		})
	}

	if got := vtest.Call(t, host, Echo, nil); got != nil {
		t.Errorf("Echo(no data) = %v, want nil", got)
	}
}

func TestUpper(t *testing.T) {
	host := vtest.NewHost().Build()
	if got := vtest.Call(t, host, Upper, "mushroom"); got != "MUSHROOM" {
		t.Errorf("Upper() = %v, want MUSHROOM", got)
	}
	if err := vtest.CallErr(t, host, Upper, 42); !errors.Is(err, ErrNotString) {
		t.Errorf("Upper(42) error = %v, want ErrNotString", err)
	}
	if err := vtest.CallErr(t, host, Upper, nil); !errors.Is(err, ErrNotString) {
		t.Errorf("Upper(nil) error = %v, want ErrNotString", err)
	}
}
