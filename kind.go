package vfs

import (
	"fmt"
	"sync"
)

// Kind identifies a backend family, such as "local", "memory", or "s3".
// Backends of the same kind share a concrete implementation and may copy
// items between each other without streaming through the caller.
//
// Kinds order paths across backend families: the family registered first
// sorts first. Registration order depends on package initialization order,
// so the ranking is stable within one process run but must not be persisted.
type Kind int

var kindRegistry = struct {
	sync.Mutex
	names []string
	index map[string]Kind
}{index: make(map[string]Kind)}

// RegisterKind allocates a new backend kind under the given name. It is
// intended to be called once per backend package, typically from a package
// variable initializer. It panics if the name is already taken.
func RegisterKind(name string) Kind {
	kindRegistry.Lock()
	defer kindRegistry.Unlock()

	if name == "" {
		panic("vfs: RegisterKind called with empty name")
	}
	if _, ok := kindRegistry.index[name]; ok {
		panic(fmt.Sprintf("vfs: backend kind %q registered twice", name))
	}
	kindRegistry.names = append(kindRegistry.names, name)
	k := Kind(len(kindRegistry.names)) // ranks start at 1; the zero Kind stays invalid
	kindRegistry.index[name] = k
	return k
}

// String returns the name the kind was registered under, or "unknown" for
// the zero value and unregistered kinds.
func (k Kind) String() string {
	kindRegistry.Lock()
	defer kindRegistry.Unlock()

	if k < 1 || int(k) > len(kindRegistry.names) {
		return "unknown"
	}
	return kindRegistry.names[k-1]
}
