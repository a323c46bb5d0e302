package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     *Document
		wantErr error
	}{
		{
			name:    "valid document",
			doc:     &Document{TenantID: "t1", ID: "d1", Version: 1, Status: DocumentUploaded},
			wantErr: nil,
		},
		{
			name:    "nil document",
			doc:     nil,
			wantErr: ErrInvalidDocument,
		},
		{
			name:    "missing tenant",
			doc:     &Document{ID: "d1", Version: 1, Status: DocumentUploaded},
			wantErr: ErrInvalidTenant,
		},
		{
			name:    "missing id",
			doc:     &Document{TenantID: "t1", Version: 1, Status: DocumentUploaded},
			wantErr: ErrInvalidDocument,
		},
		{
			name:    "zero version",
			doc:     &Document{TenantID: "t1", ID: "d1", Status: DocumentUploaded},
			wantErr: ErrInvalidDocument,
		},
		{
			name:    "unknown status",
			doc:     &Document{TenantID: "t1", ID: "d1", Version: 1, Status: 42},
			wantErr: ErrInvalidDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDocument() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChunk(t *testing.T) {
	valid := func() *Chunk {
		return &Chunk{TenantID: "t1", DocumentID: "d1", Version: 1, Sequence: 0, Start: 0, End: 10}
	}

	tests := []struct {
		name    string
		mutate  func(c *Chunk)
		wantErr bool
	}{
		{"valid chunk", func(c *Chunk) {}, false},
		{"valid without vector or text", func(c *Chunk) { c.Vector = nil; c.Text = "" }, false},
		{"missing tenant", func(c *Chunk) { c.TenantID = "" }, true},
		{"missing document", func(c *Chunk) { c.DocumentID = "" }, true},
		{"zero version", func(c *Chunk) { c.Version = 0 }, true},
		{"negative sequence", func(c *Chunk) { c.Sequence = -1 }, true},
		{"inverted span", func(c *Chunk) { c.Start = 5; c.End = 4 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := ValidateChunk(c)
			if tt.wantErr && !errors.Is(err, ErrInvalidChunk) {
				t.Errorf("ValidateChunk() error = %v, want ErrInvalidChunk", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateChunk() unexpected error = %v", err)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]TaskState]bool{
		{TaskPending, TaskProcessing}:   true,
		{TaskPending, TaskCancelled}:    true,
		{TaskProcessing, TaskSucceeded}: true,
		{TaskProcessing, TaskFailed}:    true,
		{TaskProcessing, TaskPending}:   true,
	}
	states := []TaskState{TaskPending, TaskProcessing, TaskSucceeded, TaskFailed, TaskCancelled}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]TaskState{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
		wantFatal     bool
	}{
		{"deadline", fmt.Errorf("embed: %w", context.DeadlineExceeded), true, false},
		{"net error", timeoutErr{}, true, false},
		{"already transient", Transient(errors.New("x")), true, false},
		{"already fatal", Fatal(errors.New("x")), false, true},
		{"unknown", errors.New("bad request"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(tt.err)
			if IsTransient(err) != tt.wantTransient {
				t.Errorf("IsTransient() = %v, want %v", IsTransient(err), tt.wantTransient)
			}
			if IsFatal(err) != tt.wantFatal {
				t.Errorf("IsFatal() = %v, want %v", IsFatal(err), tt.wantFatal)
			}
		})
	}

	if Classify(nil) != nil {
		t.Errorf("Classify(nil) should be nil")
	}
}

func TestTransientFatal_NoDoubleWrap(t *testing.T) {
	base := errors.New("x")
	once := Transient(base)
	if Transient(once) != once {
		t.Errorf("Transient() wrapped an already transient error")
	}
	f := Fatal(base)
	if Fatal(f) != f {
		t.Errorf("Fatal() wrapped an already fatal error")
	}
}

func TestValidateTenant(t *testing.T) {
	tests := []struct {
		tenant TenantID
		valid  bool
	}{
		{"acme", true},
		{"org:with:colons", true},
		{"", false},
		{"   ", false},
		{"with\x00nul", true},
	}
	for _, tt := range tests {
		err := ValidateTenant(tt.tenant)
		if tt.valid && err != nil {
			t.Errorf("ValidateTenant(%q) = %v, want nil", tt.tenant, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidTenant) {
			t.Errorf("ValidateTenant(%q) = %v, want ErrInvalidTenant", tt.tenant, err)
		}
	}
}
