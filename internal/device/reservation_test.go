package device

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
)

func TestReserve(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Registry)
		reader  string
		session string
		wantErr error
		wantBy  string
	}{
		{
			name:    "unreserved reader",
			reader:  "R1",
			session: "sessA",
			wantBy:  "sessA",
		},
		{
			name:    "unknown reader",
			reader:  "R9",
			session: "sessA",
			wantErr: ErrDeviceNotFound,
		},
		{
			name:    "held by another session",
			setup:   func(r *Registry) { _ = r.Reserve("R1", "sessA") },
			reader:  "R1",
			session: "sessB",
			wantErr: ErrDeviceAlreadyReserved,
			wantBy:  "sessA",
		},
		{
			name:    "same session again",
			setup:   func(r *Registry) { _ = r.Reserve("R1", "sessA") },
			reader:  "R1",
			session: "sessA",
			wantBy:  "sessA",
		},
		{
			name:    "empty session",
			reader:  "R1",
			session: "",
			wantErr: ErrEmptySession,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newTestRegistry(t, newFakeReader("R1"), newFakeReader("R2"))
			if tt.setup != nil {
				tt.setup(reg)
			}

			err := reg.Reserve(tt.reader, tt.session)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Reserve() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Reserve() error = %v", err)
			}

			by, _ := reg.ReservationOf(tt.reader)
			if by != tt.wantBy {
				t.Errorf("ReservationOf(%s) = %q, want %q", tt.reader, by, tt.wantBy)
			}
		})
	}
}

func TestReserve_EvictsPreviousReservationOfSession(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeReader("R1"), newFakeReader("R2"))

	if err := reg.Reserve("R1", "sessA"); err != nil {
		t.Fatalf("Reserve(R1) error = %v", err)
	}
	if err := reg.Reserve("R2", "sessA"); err != nil {
		t.Fatalf("Reserve(R2) error = %v", err)
	}

	if reg.IsReserved("R1") {
		t.Error("R1 should be released when sessA reserves R2")
	}
	if by, _ := reg.ReservationOf("R2"); by != "sessA" {
		t.Errorf("ReservationOf(R2) = %q, want sessA", by)
	}
	if got := reg.ListAvailable(); !slices.Equal(got, []string{"R1"}) {
		t.Errorf("ListAvailable() = %v, want [R1]", got)
	}
}

func TestReserve_FailureKeepsPreviousReservation(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeReader("R1"), newFakeReader("R2"))
	_ = reg.Reserve("R1", "sessA")
	_ = reg.Reserve("R2", "sessB")

	if err := reg.Reserve("R2", "sessA"); !errors.Is(err, ErrDeviceAlreadyReserved) {
		t.Fatalf("Reserve(R2, sessA) error = %v, want ErrDeviceAlreadyReserved", err)
	}
	if by, _ := reg.ReservationOf("R1"); by != "sessA" {
		t.Errorf("failed reserve must not evict: ReservationOf(R1) = %q", by)
	}
}

func TestRelease(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeReader("R1"))
	_ = reg.Reserve("R1", "sessA")

	reg.Release("R1")
	reg.Release("R1")

	if reg.IsReserved("R1") {
		t.Error("IsReserved(R1) = true after Release")
	}
	if err := reg.Reserve("R1", "sessB"); err != nil {
		t.Errorf("Reserve(R1, sessB) after release error = %v", err)
	}
}

func TestReleaseBySession(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeReader("R1"))
	_ = reg.Reserve("R1", "sessA")

	name, ok := reg.ReleaseBySession("sessA")
	if !ok || name != "R1" {
		t.Errorf("ReleaseBySession() = (%q, %v), want (R1, true)", name, ok)
	}
	if _, ok := reg.ReleaseBySession("sessA"); ok {
		t.Error("second ReleaseBySession() should report nothing released")
	}
	if err := reg.Reserve("R1", "sessB"); err != nil {
		t.Errorf("Reserve(R1, sessB) error = %v", err)
	}
}

func TestReserve_ConcurrentSingleHolder(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeReader("R1"))

	const sessions = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := range sessions {
		wg.Add(1)
		go func(session string) {
			defer wg.Done()
			if err := reg.Reserve("R1", session); err == nil {
				mu.Lock()
				winners = append(winners, session)
				mu.Unlock()
			}
		}(fmt.Sprintf("sess-%d", i))
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
	if by, _ := reg.ReservationOf("R1"); by != winners[0] {
		t.Errorf("ReservationOf(R1) = %q, want %q", by, winners[0])
	}
}
