package connid_test

import (
	"testing"

	"github.com/momentics/fio/api"
	"github.com/momentics/fio/internal/connid"
)

type recordingProtocol struct {
	closed int
}

func (r *recordingProtocol) OnData(api.ConnUUID)     {}
func (r *recordingProtocol) OnReady(api.ConnUUID)    {}
func (r *recordingProtocol) OnShutdown(api.ConnUUID) {}
func (r *recordingProtocol) OnClose(api.ConnUUID)    { r.closed++ }
func (r *recordingProtocol) OnPing(api.ConnUUID)     {}

func TestStaleUUIDFailsCleanly(t *testing.T) {
	tbl := connid.NewTable(16)
	u1 := tbl.Open(7)
	if err := tbl.Attach(u1, &recordingProtocol{}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := tbl.Close(u1); err != nil {
		t.Fatalf("close: %v", err)
	}

	u2 := tbl.Open(7) // reuse fd 7
	if _, err := tbl.FdOf(u1); err != api.ErrBadUUID {
		t.Fatalf("expected ErrBadUUID for stale uuid, got %v", err)
	}
	if fd, err := tbl.FdOf(u2); err != nil || fd != 7 {
		t.Fatalf("new uuid on reused fd should validate, got fd=%d err=%v", fd, err)
	}
}

func TestCloseRunsOnCloseOnce(t *testing.T) {
	tbl := connid.NewTable(8)
	u := tbl.Open(3)
	p := &recordingProtocol{}
	if err := tbl.Attach(u, p); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := tbl.Close(u); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tbl.Close(u); err == nil {
		t.Fatalf("second close of same uuid should fail")
	}
	if p.closed != 1 {
		t.Fatalf("expected exactly one OnClose, got %d", p.closed)
	}
}

func TestOnCloseHooksRunBeforeGenerationAdvances(t *testing.T) {
	tbl := connid.NewTable(8)
	u := tbl.Open(5)
	ran := false
	var errDuringHook error
	if err := tbl.OnClose(u, func() {
		ran = true
		_, errDuringHook = tbl.FdOf(u)
	}); err != nil {
		t.Fatalf("register onclose: %v", err)
	}
	if err := tbl.Close(u); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ran {
		t.Fatalf("expected onclose hook to run")
	}
	// Inside the hook the slot is closed but its generation is unchanged,
	// so u is reported closed rather than stale.
	if errDuringHook != api.ErrClosed {
		t.Fatalf("expected ErrClosed inside hook (generation not yet advanced), got %v", errDuringHook)
	}
	if _, err := tbl.FdOf(u); err != api.ErrBadUUID {
		t.Fatalf("expected ErrBadUUID once close completes, got %v", err)
	}
}

func TestAttachReplacesPreviousProtocol(t *testing.T) {
	tbl := connid.NewTable(8)
	u := tbl.Open(1)
	first := &recordingProtocol{}
	second := &recordingProtocol{}
	if err := tbl.Attach(u, first); err != nil {
		t.Fatalf("attach first: %v", err)
	}
	if err := tbl.Attach(u, second); err != nil {
		t.Fatalf("attach second: %v", err)
	}
	if first.closed != 1 {
		t.Fatalf("replacing protocol should invoke OnClose on previous one")
	}
	got, err := tbl.Protocol(u)
	if err != nil || got != second {
		t.Fatalf("expected second protocol attached, err=%v", err)
	}
}
