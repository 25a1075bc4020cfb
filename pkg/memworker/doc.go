// Package memworker runs a memory index in a separate execution context and
// talks to it over newline-delimited JSON frames.
//
// The host side is a Proxy, which implements memory.Index. The owned side is
// Serve, which builds exactly one backend (normally a *memory.Manager) and
// answers requests. Frames are requests (carrying a monotonically increasing
// id), responses (echoing that id) and notifications pushed by the worker:
//
//	{"kind":"notification","event":"ready","data":{"identity":"alice","dirty":true}}
//	{"kind":"request","id":1,"method":"search","params":{"query":"deploy"}}
//	{"kind":"response","id":1,"result":[...]}
//	{"kind":"notification","event":"dirty","data":{"dirty":false}}
//
// Calls issued before ready are queued. When the worker exits every pending
// call fails with ErrWorkerExited; the proxy never respawns it.
package memworker
