package wnbd

import "testing"

func TestDecodeCDBRangeRead6(t *testing.T) {
	cdb := []byte{scsiOpRead6, 0x01, 0x02, 0x03, 5, 0}
	rng, ok := decodeCDBRange(cdb)
	if !ok {
		t.Fatal("decode failed")
	}
	wantLBA := uint64(0x01)<<16 | uint64(0x02)<<8 | uint64(0x03)
	if rng.lbaBlocks != wantLBA || rng.blockCount != 5 {
		t.Errorf("got %+v, want lba=%d count=5", rng, wantLBA)
	}
}

func TestDecodeCDBRangeRead6ZeroMeans256(t *testing.T) {
	cdb := []byte{scsiOpRead6, 0, 0, 0, 0, 0}
	rng, ok := decodeCDBRange(cdb)
	if !ok || rng.blockCount != 256 {
		t.Errorf("got %+v, ok=%v, want blockCount=256", rng, ok)
	}
}

func TestDecodeCDBRangeRead10WithFUA(t *testing.T) {
	cdb := read10CDB(1000, 16)
	cdb[1] |= 0x08
	rng, ok := decodeCDBRange(cdb)
	if !ok || rng.lbaBlocks != 1000 || rng.blockCount != 16 || !rng.fua {
		t.Errorf("got %+v, ok=%v", rng, ok)
	}
}

func TestDecodeCDBRangeRead12(t *testing.T) {
	cdb := make([]byte, 12)
	cdb[0] = scsiOpRead12
	cdb[2], cdb[3], cdb[4], cdb[5] = 0, 0, 0x01, 0x00
	cdb[6], cdb[7], cdb[8], cdb[9] = 0, 0, 0, 32
	rng, ok := decodeCDBRange(cdb)
	if !ok || rng.lbaBlocks != 256 || rng.blockCount != 32 {
		t.Errorf("got %+v, ok=%v", rng, ok)
	}
}

func TestDecodeCDBRangeRead16(t *testing.T) {
	cdb := make([]byte, 16)
	cdb[0] = scsiOpRead16
	cdb[9] = 1
	cdb[13] = 8
	rng, ok := decodeCDBRange(cdb)
	if !ok || rng.lbaBlocks != 1 || rng.blockCount != 8 {
		t.Errorf("got %+v, ok=%v", rng, ok)
	}
}

func TestDecodeCDBRangeTruncatedIsRejected(t *testing.T) {
	if _, ok := decodeCDBRange([]byte{scsiOpRead10, 0, 0, 0}); ok {
		t.Error("truncated READ10 CDB should not decode")
	}
}

func TestDecodeCDBRangeUnknownOpcodeIsRejected(t *testing.T) {
	if _, ok := decodeCDBRange([]byte{0xFF, 0, 0, 0, 0, 0}); ok {
		t.Error("unknown opcode should not decode")
	}
}

func TestDecodeCDBRangeEmptyIsRejected(t *testing.T) {
	if _, ok := decodeCDBRange(nil); ok {
		t.Error("empty CDB should not decode")
	}
}

func TestInquiryResponseStandardData(t *testing.T) {
	d := &Disk{SerialNumber: "abc123"}
	resp := inquiryResponse(d, []byte{scsiOpInquiry, 0, 0, 0, 36, 0})
	if len(resp) != 36 {
		t.Fatalf("len = %d, want 36", len(resp))
	}
	if resp[2] != 0x05 {
		t.Errorf("version byte = %#x, want 0x05", resp[2])
	}
}

func TestInquiryResponseVPDSupportedPages(t *testing.T) {
	d := &Disk{SerialNumber: "abc123"}
	resp := inquiryResponse(d, []byte{scsiOpInquiry, 0x01, 0x00, 0, 255, 0})
	if len(resp) == 0 || resp[1] != 0x00 {
		t.Errorf("got %v, want page 0x00 response", resp)
	}
}

func TestInquiryResponseVPDSerialNumber(t *testing.T) {
	d := &Disk{SerialNumber: "SN-42"}
	resp := inquiryResponse(d, []byte{scsiOpInquiry, 0x01, 0x80, 0, 255, 0})
	if string(resp[4:]) != "SN-42" {
		t.Errorf("serial = %q, want SN-42", resp[4:])
	}
}

func TestReadCapacity10Response(t *testing.T) {
	d := &Disk{BlockCount: 2048, BlockSize: 512}
	resp := readCapacity10Response(d)
	if len(resp) != 8 {
		t.Fatalf("len = %d, want 8", len(resp))
	}
	lastLBA := uint32(resp[0])<<24 | uint32(resp[1])<<16 | uint32(resp[2])<<8 | uint32(resp[3])
	if lastLBA != 2047 {
		t.Errorf("lastLBA = %d, want 2047", lastLBA)
	}
}

func TestReadCapacity10ResponseSaturatesPastUint32(t *testing.T) {
	d := &Disk{BlockCount: uint64(1) << 40, BlockSize: 512}
	resp := readCapacity10Response(d)
	for _, b := range resp[0:4] {
		if b != 0xFF {
			t.Fatalf("expected saturated 0xFFFFFFFF, got %v", resp[0:4])
		}
	}
}

func TestReadCapacity16Response(t *testing.T) {
	d := &Disk{BlockCount: 1 << 40, BlockSize: 4096}
	resp := readCapacity16Response(d)
	if len(resp) != 32 {
		t.Fatalf("len = %d, want 32", len(resp))
	}
}

func TestModeSenseCachingPageReadCacheDisabled(t *testing.T) {
	resp := modeSenseCachingPage(false)
	if resp[6] != 0x01 {
		t.Errorf("RCD bit = %#x, want 0x01 (read cache disabled)", resp[6])
	}
}

func TestModeSenseCachingPage10ByteHeader(t *testing.T) {
	resp := modeSenseCachingPage(true)
	if len(resp) != 8+20 {
		t.Fatalf("len = %d, want %d", len(resp), 8+20)
	}
}
