package bitstream

import (
	"bytes"
	"errors"
	"testing"
)

func TestAnnexBToAVCCSingleNALU(t *testing.T) {
	t.Parallel()

	in := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xAA, 0xBB}
	got, err := AnnexBToAVCC(in)
	if err != nil {
		t.Fatalf("AnnexBToAVCC: %v", err)
	}

	want := []byte{0x00, 0x00, 0x00, 0x03, 0x65, 0xAA, 0xBB}
	if !bytes.Equal(got, want) {
		t.Fatalf("AnnexBToAVCC = %x, want %x", got, want)
	}
}

func TestAnnexBToAVCCMultipleNALUs(t *testing.T) {
	t.Parallel()

	// SPS with a 4-byte start code, PPS and IDR with 3-byte start codes.
	in := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42,
		0x00, 0x00, 0x01, 0x68, 0xCE,
		0x00, 0x00, 0x01, 0x65, 0x88, 0x80,
	}
	got, err := AnnexBToAVCC(in)
	if err != nil {
		t.Fatalf("AnnexBToAVCC: %v", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 0x02, 0x67, 0x42,
		0x00, 0x00, 0x00, 0x02, 0x68, 0xCE,
		0x00, 0x00, 0x00, 0x03, 0x65, 0x88, 0x80,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("AnnexBToAVCC = %x, want %x", got, want)
	}
}

func TestAnnexBToAVCCConsecutiveFourByteCodes(t *testing.T) {
	t.Parallel()

	in := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42,
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88,
	}
	got, err := AnnexBToAVCC(in)
	if err != nil {
		t.Fatalf("AnnexBToAVCC: %v", err)
	}

	// The zero preceding the second start code belongs to the start code,
	// not to the first NALU's payload.
	want := []byte{
		0x00, 0x00, 0x00, 0x02, 0x67, 0x42,
		0x00, 0x00, 0x00, 0x02, 0x65, 0x88,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("AnnexBToAVCC = %x, want %x", got, want)
	}
}

func TestAnnexBToAVCCNoStartCode(t *testing.T) {
	t.Parallel()

	_, err := AnnexBToAVCC([]byte{0x65, 0x88, 0x80})
	if !errors.Is(err, ErrNoStartCode) {
		t.Fatalf("err = %v, want ErrNoStartCode", err)
	}
}
