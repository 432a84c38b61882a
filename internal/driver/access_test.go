package driver

import "testing"

func TestCombineMemIdentityAndSelf(t *testing.T) {
	cases := []struct {
		current, additional, want MemAccess
	}{
		{MemRead, MemNone, MemRead},
		{MemNone, MemWrite, MemWrite},
		{MemExecute, MemExecute, MemExecute},
		{MemRead, MemWrite, MemRead | MemWrite},
	}

	for _, c := range cases {
		got, ok := CombineMem(c.current, c.additional)
		if !ok {
			t.Errorf("CombineMem(%v, %v): want ok, got invalid", c.current, c.additional)
			continue
		}
		if got != c.want {
			t.Errorf("CombineMem(%v, %v) = %v, want %v", c.current, c.additional, got, c.want)
		}
	}
}

func TestCombineMemExecuteOnWriteIsExclusive(t *testing.T) {
	others := []MemAccess{MemRead, MemWrite, MemExecute, MemRead | MemWrite}

	for _, other := range others {
		if _, ok := CombineMem(MemExecuteOnWrite, other); ok {
			t.Errorf("CombineMem(ExecuteOnWrite, %v): want invalid, got ok", other)
		}
		if _, ok := CombineMem(other, MemExecuteOnWrite); ok {
			t.Errorf("CombineMem(%v, ExecuteOnWrite): want invalid, got ok", other)
		}
	}

	// ExecuteOnWrite combines with itself and with None.
	if got, ok := CombineMem(MemExecuteOnWrite, MemExecuteOnWrite); !ok || got != MemExecuteOnWrite {
		t.Errorf("CombineMem(ExecuteOnWrite, ExecuteOnWrite) = %v, %v", got, ok)
	}
	if got, ok := CombineMem(MemExecuteOnWrite, MemNone); !ok || got != MemExecuteOnWrite {
		t.Errorf("CombineMem(ExecuteOnWrite, None) = %v, %v", got, ok)
	}
}

func TestMemAccessString(t *testing.T) {
	cases := map[MemAccess]string{
		MemNone:             "none",
		MemRead:             "read",
		MemRead | MemWrite:  "read|write",
		MemExecuteOnWrite:   "execute-on-write",
	}

	for access, want := range cases {
		if got := access.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", access, got, want)
		}
	}
}
