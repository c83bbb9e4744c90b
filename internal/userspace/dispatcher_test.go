package userspace

import (
	"context"
	"testing"
	"time"

	"github.com/wnbd-io/go-wnbd/internal/interfaces"
	"github.com/wnbd-io/go-wnbd/internal/reqqueue"
	"github.com/wnbd-io/go-wnbd/internal/rundown"
	"github.com/wnbd-io/go-wnbd/internal/uapi"
)

type mockHostPort struct {
	completions []struct {
		tag    uint64
		status interfaces.SRBStatus
		length uint32
	}
}

func (m *mockHostPort) CompleteSRB(tag uint64, status interfaces.SRBStatus, dataLength uint32) {
	m.completions = append(m.completions, struct {
		tag    uint64
		status interfaces.SRBStatus
		length uint32
	}{tag, status, dataLength})
}
func (m *mockHostPort) CompleteAllSRBs(interfaces.SRBStatus) {}
func (m *mockHostPort) NotifyBusChange()                     {}

func newTestDispatcher(pid uint32) (*Dispatcher, *reqqueue.PendingQueue, *reqqueue.SubmittedQueue, *mockHostPort) {
	pending := reqqueue.NewPendingQueue()
	submitted := reqqueue.NewSubmittedQueue()
	host := &mockHostPort{}
	d := NewDispatcher(Config{
		DiskID:       1,
		ConnectionID: 42,
		OwnerPID:     pid,
		Pending:      pending,
		Submitted:    submitted,
		HostPort:     host,
	})
	return d, pending, submitted, host
}

func TestFetchRequestRejectsWrongOwner(t *testing.T) {
	d, _, _, _ := newTestDispatcher(100)
	_, _, err := d.FetchRequest(context.Background(), 200, make([]byte, 4096))
	if err != ErrWrongOwner {
		t.Errorf("err = %v, want ErrWrongOwner", err)
	}
}

func TestFetchRequestRejectsNBDMode(t *testing.T) {
	pending := reqqueue.NewPendingQueue()
	submitted := reqqueue.NewSubmittedQueue()
	d := NewDispatcher(Config{OwnerPID: 100, UseNBD: true, Pending: pending, Submitted: submitted})
	_, _, err := d.FetchRequest(context.Background(), 100, nil)
	if err != ErrWrongMode {
		t.Errorf("err = %v, want ErrWrongMode", err)
	}
}

func TestFetchRequestReturnsWritePayload(t *testing.T) {
	d, pending, submitted, _ := newTestDispatcher(100)
	payload := []byte{1, 2, 3, 4}
	d.cfg.PayloadSource = func(rec *reqqueue.Record) []byte { return payload }

	pending.Enqueue(&reqqueue.Record{Kind: reqqueue.KindWrite, StartingLBABytes: 512, DataLengthBytes: 4})

	desc, got, err := d.FetchRequest(context.Background(), 100, make([]byte, 4096))
	if err != nil {
		t.Fatalf("FetchRequest: %v", err)
	}
	if desc.Type != uapi.WnbdReqTypeWrite || desc.BlockAddress != 512 {
		t.Errorf("descriptor = %+v, unexpected", desc)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %v, want %v", got, payload)
	}
	if submitted.Len() != 1 {
		t.Errorf("submitted.Len() = %d, want 1", submitted.Len())
	}
}

func TestFetchRequestSkipsOversizedPayloadAsInvalid(t *testing.T) {
	d, pending, submitted, host := newTestDispatcher(100)
	d.cfg.PayloadSource = func(rec *reqqueue.Record) []byte { return make([]byte, 100) }

	pending.Enqueue(&reqqueue.Record{Tag: 1, Kind: reqqueue.KindWrite, DataLengthBytes: 100})
	pending.Enqueue(&reqqueue.Record{Tag: 2, Kind: reqqueue.KindFlush})

	desc, _, err := d.FetchRequest(context.Background(), 100, make([]byte, 10))
	if err != nil {
		t.Fatalf("FetchRequest: %v", err)
	}
	if desc.Type != uapi.WnbdReqTypeFlush {
		t.Errorf("expected the oversized write to be skipped, got %+v", desc)
	}
	if len(host.completions) != 1 || host.completions[0].status != interfaces.SRBStatusInvalidRequest {
		t.Errorf("completions = %+v, want one InvalidRequest completion", host.completions)
	}
	if submitted.Len() != 1 {
		t.Errorf("submitted.Len() = %d, want 1 (only the flush)", submitted.Len())
	}
}

func TestFetchRequestReturnsSyntheticDisconnectOnRemoval(t *testing.T) {
	d, _, _, _ := newTestDispatcher(100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	desc, payload, err := d.FetchRequest(ctx, 100, nil)
	if err != nil {
		t.Fatalf("FetchRequest: %v", err)
	}
	if desc.Type != uapi.WnbdReqTypeDisconnect {
		t.Errorf("Type = %v, want Disconnect", desc.Type)
	}
	if payload != nil {
		t.Errorf("payload = %v, want nil", payload)
	}
}

func TestSendResponseRejectsWrongOwner(t *testing.T) {
	d, _, _, _ := newTestDispatcher(100)
	err := d.SendResponse(200, &uapi.ResponseDescriptor{Tag: 1}, nil)
	if err != ErrWrongOwner {
		t.Errorf("err = %v, want ErrWrongOwner", err)
	}
}

func TestSendResponseUnknownTagReturnsNotFound(t *testing.T) {
	d, _, _, _ := newTestDispatcher(100)
	err := d.SendResponse(100, &uapi.ResponseDescriptor{Tag: 999}, nil)
	if err != ErrRecordNotFound {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestSendResponseSuccessfulReadDeliversPayload(t *testing.T) {
	d, pending, _, host := newTestDispatcher(100)
	var delivered []byte
	d.cfg.PayloadSink = func(rec *reqqueue.Record, payload []byte) { delivered = payload }

	pending.Enqueue(&reqqueue.Record{Kind: reqqueue.KindRead, DataLengthBytes: 6})
	desc, _, err := d.FetchRequest(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("FetchRequest: %v", err)
	}

	if err := d.SendResponse(100, &uapi.ResponseDescriptor{Tag: desc.Tag}, []byte{1, 2, 3}); err != nil {
		t.Fatalf("SendResponse: %v", err)
	}

	if len(delivered) != 6 {
		t.Fatalf("delivered len = %d, want 6 (zero-padded)", len(delivered))
	}
	if delivered[0] != 1 || delivered[1] != 2 || delivered[2] != 3 {
		t.Errorf("delivered prefix = %v, want [1 2 3 ...]", delivered[:3])
	}
	for _, b := range delivered[3:] {
		if b != 0 {
			t.Error("tail past what the caller supplied must be zero-filled")
		}
	}
	if len(host.completions) != 1 || host.completions[0].status != interfaces.SRBStatusSuccess {
		t.Errorf("completions = %+v, want one Success", host.completions)
	}
}

func TestSendResponseFailureCompletesWithError(t *testing.T) {
	d, pending, _, host := newTestDispatcher(100)
	pending.Enqueue(&reqqueue.Record{Kind: reqqueue.KindWrite, DataLengthBytes: 4})
	desc, _, err := d.FetchRequest(context.Background(), 100, make([]byte, 4096))
	if err != nil {
		t.Fatalf("FetchRequest: %v", err)
	}

	if err := d.SendResponse(100, &uapi.ResponseDescriptor{Tag: desc.Tag, Status: uapi.WNBDStatus{ScsiStatus: 2}}, nil); err != nil {
		t.Fatalf("SendResponse: %v", err)
	}
	if len(host.completions) != 1 || host.completions[0].status != interfaces.SRBStatusError {
		t.Errorf("completions = %+v, want one Error", host.completions)
	}
}

// TestSendResponseForAbortedRecordReleasesRundownWithoutDoubleCompleting
// covers the submitted-queue two-stage cancellation path (spec §4.1): a
// record marked aborted and completed while still submitted must not be
// delivered a second time when send_response eventually arrives for it,
// but that call must still retire the record's rundown reference.
func TestSendResponseForAbortedRecordReleasesRundownWithoutDoubleCompleting(t *testing.T) {
	d, pending, submitted, host := newTestDispatcher(100)
	rd := rundown.New()
	rd.Acquire()
	d.cfg.Rundown = rd

	pending.Enqueue(&reqqueue.Record{Kind: reqqueue.KindFlush})
	desc, _, err := d.FetchRequest(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("FetchRequest: %v", err)
	}

	// Simulate two-stage cancellation's stage 1: the record stays in the
	// submitted queue (so SendResponse below still finds it by tag) but
	// is already marked aborted and completed once, exactly as
	// resetLogicalUnit/abortSubmitted would do.
	marked := submitted.MarkAllAborted()
	if len(marked) != 1 {
		t.Fatalf("expected exactly one submitted record, got %d", len(marked))
	}
	if !marked[0].CompleteOnce() {
		t.Fatal("setup: record should not already be completed")
	}
	host.completions = append(host.completions, struct {
		tag    uint64
		status interfaces.SRBStatus
		length uint32
	}{desc.Tag, interfaces.SRBStatusAborted, 0})

	if err := d.SendResponse(100, &uapi.ResponseDescriptor{Tag: desc.Tag}, nil); err != nil {
		t.Fatalf("SendResponse: %v", err)
	}

	if len(host.completions) != 1 {
		t.Errorf("completions = %d, want exactly 1 (the late response must not deliver a second completion)", len(host.completions))
	}
	if got := rd.Count(); got != 0 {
		t.Errorf("rundown count = %d, want 0 after the late response is discarded", got)
	}
}

func TestFetchRequestBlocksUntilEnqueueOrCancel(t *testing.T) {
	d, pending, _, _ := newTestDispatcher(100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan *uapi.RequestDescriptor, 1)
	go func() {
		desc, _, _ := d.FetchRequest(ctx, 100, make([]byte, 4096))
		done <- desc
	}()

	select {
	case <-done:
		t.Fatal("FetchRequest returned before anything was enqueued or canceled")
	case <-time.After(20 * time.Millisecond):
	}

	pending.Enqueue(&reqqueue.Record{Kind: reqqueue.KindFlush})

	select {
	case desc := <-done:
		if desc.Type != uapi.WnbdReqTypeFlush {
			t.Errorf("Type = %v, want Flush", desc.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("FetchRequest never returned after enqueue")
	}
}
