// Command geyser-plugin builds the notification plugin as a shared library:
//
//	go build -buildmode=c-shared -o libpulse_geyser.so ./cmd/geyser-plugin
//
// The host calls _create_plugin once to get an opaque handle and passes it
// to every other entry point. Notifications cross the boundary as JSON
// envelopes (see pkg/geyser.Envelope); every call returns a status code from
// internal/adapter (0 on success).
package main

/*
#include <stdbool.h>
#include <stddef.h>
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import "unsafe"

//export _create_plugin
func _create_plugin() C.uintptr_t {
	return C.uintptr_t(create())
}

//export geyser_destroy_plugin
func geyser_destroy_plugin(h C.uintptr_t) C.int32_t {
	return C.int32_t(destroy(uintptr(h)))
}

//export geyser_on_load
func geyser_on_load(h C.uintptr_t, configPath *C.char, isReload C.bool) C.int32_t {
	return C.int32_t(onLoad(uintptr(h), C.GoString(configPath), bool(isReload)))
}

//export geyser_on_unload
func geyser_on_unload(h C.uintptr_t) C.int32_t {
	return C.int32_t(onUnload(uintptr(h)))
}

//export geyser_notify_end_of_startup
func geyser_notify_end_of_startup(h C.uintptr_t) C.int32_t {
	return C.int32_t(endOfStartup(uintptr(h)))
}

//export geyser_capability_enabled
func geyser_capability_enabled(h C.uintptr_t, kind C.int32_t) C.bool {
	return C.bool(capabilityEnabled(uintptr(h), int32(kind)))
}

// geyser_notify takes one JSON envelope. The buffer is copied before use.
//
//export geyser_notify
func geyser_notify(h C.uintptr_t, data *C.char, n C.size_t) C.int32_t {
	if data == nil {
		return C.int32_t(notify(uintptr(h), nil))
	}
	return C.int32_t(notify(uintptr(h), C.GoBytes(unsafe.Pointer(data), C.int(n))))
}

// geyser_stats returns a JSON document the caller must release with
// geyser_free_string, or NULL for an invalid handle.
//
//export geyser_stats
func geyser_stats(h C.uintptr_t) *C.char {
	b, code := stats(uintptr(h))
	if code != 0 {
		return nil
	}
	return C.CString(string(b))
}

//export geyser_free_string
func geyser_free_string(s *C.char) {
	C.free(unsafe.Pointer(s))
}

func main() {}
