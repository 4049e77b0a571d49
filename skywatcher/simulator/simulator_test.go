package simulator

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDispatch(t *testing.T) {
	s, conn := New(DefaultConfig())
	defer conn.Close()
	for _, test := range []struct {
		input, want string
	}{
		{":e1", "=020400"},
		{":a1", "=00B289"},
		{":b2", "=A7FD00"},
		{":g1", "=10"},
		{":j1", "=000080"},
		{":f1", "=400"},
		{":F1", "="},
		{":f1", "=401"},
		{":G130", "="},
		{":I1100000", "="},
		{":J1", "="},
		{":G110", "!2"},
		{":E1000080", "!2"},
		{":H1", "!1"},
		{":x1", "!0"},
		{":j3", "!0"},
		{":J2", "!0"},
	} {
		if got := s.handle(test.input); got != test.want {
			t.Errorf("%s: got %q, want %q", test.input, got, test.want)
		}
	}
}

func TestGotoStepping(t *testing.T) {
	s, conn := New(DefaultConfig())
	defer conn.Close()
	for _, in := range []string{":F2", ":G221", ":H2E80300", ":M2AC0D00", ":J2"} {
		if got := s.handle(in); got != "=" {
			t.Fatalf("%s: got %q", in, got)
		}
	}
	for i := 0; i < 1000 && s.Running(1); i++ {
		s.step()
	}
	if s.Running(1) {
		t.Fatalf("goto never finished")
	}
	// 1000 steps backwards from zero wraps.
	if got, want := s.Position(1), DefaultConfig().Steps-1000; got != want {
		t.Errorf("position = %d, want %d", got, want)
	}
	if got := s.handle(":f2"); got != "=201" {
		t.Errorf("status after goto = %q, want =201", got)
	}
}

func TestRampedStop(t *testing.T) {
	s, conn := New(DefaultConfig())
	defer conn.Close()
	for _, in := range []string{":F1", ":G110", ":I1100000", ":J1", ":K1"} {
		s.handle(in)
	}
	var running []bool
	for i := 0; i < rampTicks; i++ {
		running = append(running, s.Running(0))
		s.step()
	}
	running = append(running, s.Running(0))
	if diff := cmp.Diff(running, []bool{true, true, true, false}); diff != "" {
		t.Errorf("unexpected ramp: got(-)/want(+):\n%s", diff)
	}
}

func TestDropResponses(t *testing.T) {
	s, conn := New(DefaultConfig())
	defer conn.Close()
	s.DropResponses(1)
	if got := s.handle(":F1"); got != "" {
		t.Errorf("dropped reply = %q", got)
	}
	if got := s.handle(":j1"); got == "" {
		t.Errorf("second reply dropped")
	}
	if got := s.Commands(); len(got) != 2 {
		t.Errorf("recorded %d commands, want 2", len(got))
	}
}
