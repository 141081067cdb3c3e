// Package echo is a mushroom plugin that returns what it is sent.
package echo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/vango-dev/mushroom/pkg/plugin"
)

// ID is the plugin identifier used in installedApps.
const ID = "echo"

// ErrNotString is returned by upper for non-string payloads.
var ErrNotString = errors.New("echo: expected a string")

func init() {
	plugin.Register(ID, Functions)
}

// Functions returns the functions exported by the plugin.
func Functions() ([]plugin.Descriptor, error) {
	return []plugin.Descriptor{
		plugin.RPC("echo", Echo),
		plugin.RPC("upper", Upper),
	}, nil
}

// Echo returns the request payload unchanged. An empty payload echoes null.
func Echo(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
	if len(req.Data) == 0 {
		return nil, nil
	}
	return json.RawMessage(req.Data), nil
}

// Upper returns the string payload in upper case.
func Upper(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
	var s string
	if err := req.Bind(&s); err != nil {
		return nil, ErrNotString
	}
	return strings.ToUpper(s), nil
}
