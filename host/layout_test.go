package host

import "testing"

func TestComputeConstantsDeterministic(t *testing.T) {
	a := ComputeConstants(4, 256, 16)
	b := ComputeConstants(4, 256, 16)
	if a != b {
		t.Fatalf("ComputeConstants is not deterministic: %+v != %+v", a, b)
	}
}

func TestComputeConstantsMonotonicOffsets(t *testing.T) {
	l := ComputeConstants(8, 512, 32)

	offsets := []uint64{
		l.TaskGraphOffset,
		l.StateManagerOffset,
		l.WorldDataOffset,
		l.HostAllocatorOffset,
		l.HostPrintOffset,
		l.TmpAllocatorOffset,
		l.DeviceTracingOffset,
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			t.Fatalf("region %d offset %d is not strictly greater than region %d offset %d", i, offsets[i], i-1, offsets[i-1])
		}
	}
	if l.TotalBytes <= offsets[len(offsets)-1] {
		t.Fatalf("TotalBytes %d does not exceed the last region's offset %d", l.TotalBytes, offsets[len(offsets)-1])
	}
}

func TestComputeConstantsWorldDataAlignment(t *testing.T) {
	l := ComputeConstants(2, 100, 64)
	if l.WorldDataOffset%64 != 0 {
		t.Fatalf("WorldDataOffset %d not aligned to 64", l.WorldDataOffset)
	}
}

func TestAlignUpZeroAlignment(t *testing.T) {
	if got := alignUp(17, 0); got != 17 {
		t.Fatalf("alignUp(17, 0) = %d, want 17 (no-op)", got)
	}
}

func TestAlignUpPowerOfTwo(t *testing.T) {
	cases := []struct{ offset, alignment, want uint64 }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{17, 16, 32},
	}
	for _, c := range cases {
		if got := alignUp(c.offset, c.alignment); got != c.want {
			t.Fatalf("alignUp(%d, %d) = %d, want %d", c.offset, c.alignment, got, c.want)
		}
	}
}
