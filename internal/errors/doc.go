// Package errors provides coded, operator-facing errors for the mushroom
// command line.
//
// Every error has a code (e.g., "E211") registered with a category, a short
// message, and usually a hint. Library packages return plain Go errors; the
// command line converts them at the edge with FromError or BindError and
// prints them with Format.
//
// # Error Codes
//
//   - E120-E199: configuration files and environment overrides
//   - E200-E209: address and port arguments
//   - E210-E229: listener bind failures, by OS error number
//   - E230-E249: plugin discovery
//
// # Usage
//
//	ln, err := net.Listen("tcp", addr)
//	if err != nil {
//	    errors.PrintError(errors.BindError(err, addr))
//	    os.Exit(1)
//	}
//	// Output:
//	// ERROR E211: That port is already in use.
//	//
//	//   127.0.0.1:8000
//	//
//	//   Cause: listen tcp 127.0.0.1:8000: bind: address already in use
//	//
//	//   Hint: Stop the other process or choose another port.
package errors
