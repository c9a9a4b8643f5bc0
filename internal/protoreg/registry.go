package protoreg

import (
	"sync"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Registry exposes the descriptors of the runtime service.
type Registry struct {
	file    protoreflect.FileDescriptor
	service protoreflect.ServiceDescriptor
}

func newRegistry(fd protoreflect.FileDescriptor) *Registry {
	return &Registry{file: fd, service: fd.Services().ByName(ServiceName)}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns a registry built once per process.
func Default() (*Registry, error) {
	defaultOnce.Do(func() { defaultReg, defaultErr = Build() })
	return defaultReg, defaultErr
}

func (r *Registry) File() protoreflect.FileDescriptor { return r.file }

func (r *Registry) Service() protoreflect.ServiceDescriptor { return r.service }

// Method returns the method descriptor by name, or nil.
func (r *Registry) Method(name protoreflect.Name) protoreflect.MethodDescriptor {
	return r.service.Methods().ByName(name)
}

func (r *Registry) RunCode() protoreflect.MethodDescriptor   { return r.Method("RunCode") }
func (r *Registry) RunPrompt() protoreflect.MethodDescriptor { return r.Method("RunPrompt") }
