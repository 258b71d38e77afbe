package isa_test

import (
	"testing"

	"rvcampaign/internal/generator/isa"

	"github.com/google/go-cmp/cmp"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		asm  string
		want isa.Features
	}{
		{
			name: "zero count excluded",
			asm:  "# rel_m.foo:3\n# rel_c.bar:0\n",
			want: isa.Features{Set: []string{"i", "m"}, XLEN: 64, March: "rv64im", Mabi: "lp64"},
		},
		{
			name: "canonical order",
			asm:  "#rel_c:1\n# rel_d.x:2\n# rel_a:5\n# rel_f:1\n# rel_m:1\n",
			want: isa.Features{Set: []string{"i", "m", "a", "f", "d", "c"}, XLEN: 64, March: "rv64imafdc", Mabi: "lp64"},
		},
		{
			name: "rv32 only lowers xlen",
			asm:  "# rel_rv32i.ctrl:10\n# rel_rv32d:4\n# rel_rv64i:0\n",
			want: isa.Features{Set: []string{"i", "d"}, XLEN: 32, March: "rv32id", Mabi: "ilp32d"},
		},
		{
			name: "rv32 without double",
			asm:  "# rel_rv32m:1\n",
			want: isa.Features{Set: []string{"i", "m"}, XLEN: 32, March: "rv32im", Mabi: "ilp32"},
		},
		{
			name: "rv64 keeps xlen",
			asm:  "# rel_rv32m:1\n# rel_rv64i.compute:7\n",
			want: isa.Features{Set: []string{"i", "m"}, XLEN: 64, March: "rv64im", Mabi: "lp64"},
		},
		{
			name: "malformed ignored",
			asm:  "# rel_m:abc\n# rel_sys:4\n# rel_q:1\n# rel_a\nrel_f:1\n",
			want: isa.Features{Set: []string{"i"}, XLEN: 64, March: "rv64i", Mabi: "lp64"},
		},
		{
			name: "compressed group token",
			asm:  "# rel_rvc.compute:5\n# rel_rvc.sp:0\n",
			want: isa.Features{Set: []string{"i", "c"}, XLEN: 64, March: "rv64ic", Mabi: "lp64"},
		},
		{
			name: "spaces around count",
			asm:  "# rel_m.foo: 3\n# rel_rv64a : 2 \n# rel_f.x:  0\n",
			want: isa.Features{Set: []string{"i", "m", "a"}, XLEN: 64, March: "rv64ima", Mabi: "lp64"},
		},
		{
			name: "no annotations",
			asm:  "_start:\n  nop\n",
			want: isa.Features{Set: []string{"i"}, XLEN: 64, March: "rv64i", Mabi: "lp64"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isa.Extract(tt.asm)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Extract() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	asm := "# rel_c:1\n# rel_m:2\n# rel_a:3\n"
	first := isa.Extract(asm)
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(first, isa.Extract(asm)); diff != "" {
			t.Fatalf("run %d differs:\n%s", i, diff)
		}
	}
	if !first.Has("m") || first.Has("f") {
		t.Fatalf("unexpected set %v", first.Set)
	}
}
