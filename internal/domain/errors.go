package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors used across packages.
var (
	ErrNotInitialized = errors.New("RAG system not properly initialized")
	ErrNoDocuments    = errors.New("no valid documents could be created from the data")
	ErrNoTable        = errors.New("no dataset loaded")
)

// LoadError reports a dataset that could not be loaded. It is the only error
// kind surfaced to the user as a hard failure.
type LoadError struct {
	Reason  string
	Missing []string
	Err     error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("load dataset: ")
	b.WriteString(e.Reason)
	if len(e.Missing) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error { return e.Err }

// RetrievalError wraps an embedding or vector store failure during search or build.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string { return fmt.Sprintf("retrieval %s: %v", e.Op, e.Err) }

func (e *RetrievalError) Unwrap() error { return e.Err }

// HostedModelError wraps a credential, network or response failure of the hosted model.
type HostedModelError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *HostedModelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("hosted model %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("hosted model %s: %v", e.Op, e.Err)
}

func (e *HostedModelError) Unwrap() error { return e.Err }
