package uapi

import "testing"

func TestMarshalUnmarshalNBDRequest(t *testing.T) {
	original := &NBDRequest{
		Magic:  NBDRequestMagic,
		Type:   NBDCmdWrite | NBDCmdFlagFUA,
		Handle: 0x0102030405060708,
		Offset: 4096,
		Length: 512,
	}

	buf := Marshal(original)
	if len(buf) != NBDRequestSize {
		t.Fatalf("marshaled length = %d, want %d", len(buf), NBDRequestSize)
	}

	got := &NBDRequest{}
	if err := Unmarshal(buf, got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if *got != *original {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, original)
	}
}

func TestUnmarshalNBDRequestShortBuffer(t *testing.T) {
	got := &NBDRequest{}
	if err := Unmarshal(make([]byte, NBDRequestSize-1), got); err != ErrInsufficientData {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestMarshalUnmarshalNBDReply(t *testing.T) {
	original := &NBDReply{
		Magic:  NBDReplyMagic,
		Error:  0,
		Handle: 0xAABBCCDDEEFF0011,
	}

	buf := Marshal(original)
	if len(buf) != NBDReplySize {
		t.Fatalf("marshaled length = %d, want %d", len(buf), NBDReplySize)
	}

	got := &NBDReply{}
	if err := Unmarshal(buf, got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if *got != *original {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, original)
	}
}

func TestMarshalUnmarshalNBDOptionReplyHeader(t *testing.T) {
	original := &NBDOptionReplyHeader{
		Magic:     NBDRepMagic,
		Option:    NBDOptGo,
		ReplyType: NBDRepAck,
		Length:    0,
	}

	buf := Marshal(original)
	got := &NBDOptionReplyHeader{}
	if err := Unmarshal(buf, got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if *got != *original {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, original)
	}
}

func TestNBDRepErrFlagsSetErrorBit(t *testing.T) {
	if NBDRepErrUnsup&NBDRepFlagErr == 0 {
		t.Error("NBD_REP_ERR_UNSUP must have the error bit set")
	}
	if NBDRepErrPolicy&NBDRepFlagErr == 0 {
		t.Error("NBD_REP_ERR_POLICY must have the error bit set")
	}
	if NBDRepAck&NBDRepFlagErr != 0 {
		t.Error("NBD_REP_ACK must not have the error bit set")
	}
}

func TestMarshalExportInfo(t *testing.T) {
	info := &NBDExportInfo{Size: 10 << 20, Flags: NBDFlagHasFlags | NBDFlagSendFUA}
	buf := MarshalExportInfo(info)
	if len(buf) != 12 {
		t.Fatalf("export info length = %d, want 12", len(buf))
	}
}

func TestWnbdRequestTypeString(t *testing.T) {
	cases := map[WnbdRequestType]string{
		WnbdReqTypeRead:          "READ",
		WnbdReqTypeWrite:         "WRITE",
		WnbdReqTypeFlush:         "FLUSH",
		WnbdReqTypeUnmap:         "UNMAP",
		WnbdReqTypeDisconnect:    "DISCONNECT",
		WnbdReqTypePersistResIn:  "PERSIST_RES_IN",
		WnbdReqTypePersistResOut: "PERSIST_RES_OUT",
		WnbdReqTypeUnknown:       "UNKNOWN",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", typ, got, want)
		}
	}
}

func TestMarshalUnsupportedType(t *testing.T) {
	if buf := Marshal("not a wire struct"); buf != nil {
		t.Errorf("Marshal(unsupported) = %v, want nil", buf)
	}
	if err := Unmarshal(nil, "not a wire struct"); err == nil {
		t.Error("Unmarshal(unsupported) should return an error")
	}
}
