package jobs

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
)

// Job is a periodic low-priority task.
//
// Run returns true when it did useful work during this call. It is invoked
// once per tick, sequentially with every other job, with the worker context.
// Run must not block indefinitely and must not call Add or Remove on the
// Scheduler running it.
//
// Jobs are compared with == on removal, so register pointers.
type Job interface {
	Run(ctx context.Context) bool
}

// Namer is an optional interface for jobs that want a readable name in logs.
type Namer interface {
	Name() string
}

// Func is a job callback paired with its own data value at registration.
//
// The registration identity is (function, data): the function is compared by
// code pointer, so closures created by the same function literal share an
// identity and must be told apart by data. data must be comparable (pointer,
// string, number, comparable struct) or nil; a non-comparable value is
// accepted but can never be matched by Remove.
type Func func(ctx context.Context, data any) bool

// identity decides whether a registered entry matches a Remove request.
type identity struct {
	fn   uintptr
	data any
	job  Job
}

func (a identity) matches(b identity) bool {
	if a.fn != b.fn {
		return false
	}
	if a.fn != 0 {
		return sameValue(a.data, b.data)
	}
	return sameValue(a.job, b.job)
}

// sameValue is a panic-free ==.
func sameValue(a, b any) (eq bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	// Comparable structs may still hold non-comparable interface values.
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

type entry struct {
	id   identity
	name string
	run  func(ctx context.Context) bool
	// seq is the registration order, assigned by the registry.
	seq uint64
}

func funcEntry(fn Func, data any) *entry {
	pc := reflect.ValueOf(fn).Pointer()
	return &entry{
		id:   identity{fn: pc, data: data},
		name: funcName(pc),
		run:  func(ctx context.Context) bool { return fn(ctx, data) },
	}
}

func jobEntry(j Job) *entry {
	return &entry{
		id:   identity{job: j},
		name: jobName(j),
		run:  j.Run,
	}
}

func funcName(pc uintptr) string {
	if f := runtime.FuncForPC(pc); f != nil {
		return f.Name()
	}
	return fmt.Sprintf("func@%#x", pc)
}

func jobName(j Job) string {
	if n, ok := j.(Namer); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return fmt.Sprintf("%T", j)
}

func isNilJob(j Job) bool {
	if j == nil {
		return true
	}
	v := reflect.ValueOf(j)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
