package errors

import (
	"fmt"
	"strings"
	"sync"
)

// Collector gathers independent failures so they can be reported together.
type Collector struct {
	mu      sync.Mutex
	context string
	errors  []error
}

// NewCollector creates a collector whose aggregate error starts with context.
func NewCollector(context string) *Collector {
	return &Collector{context: context}
}

// Add records err if it is not nil.
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

// Len returns the number of collected errors.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors)
}

// Err returns nil when nothing was collected, otherwise an *AggregateError.
func (c *Collector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errors) == 0 {
		return nil
	}
	errs := make([]error, len(c.errors))
	copy(errs, c.errors)
	return &AggregateError{Context: c.context, Errors: errs}
}

// AggregateError lists every individual failure in a single message.
type AggregateError struct {
	Context string
	Errors  []error
}

func (e *AggregateError) Error() string {
	var b strings.Builder
	if e.Context != "" {
		b.WriteString(e.Context)
	} else {
		b.WriteString("multiple errors")
	}
	b.WriteString(fmt.Sprintf(" (%d):", len(e.Errors)))
	for _, err := range e.Errors {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}
