package roundtrip

import (
	"context"
	"testing"

	"github.com/logflow/bxes/pkg/model"
)

func TestRun_AllLayouts(t *testing.T) {
	sys := &model.SystemMetadata{ValueAttributes: []model.ValueAttributeDescriptor{
		{TypeID: model.TypeString, Name: "org:resource"},
		{TypeID: model.TypeStandardLifecycle, Name: "lifecycle:transition"},
	}}

	for _, layout := range Layouts() {
		for _, withSys := range []bool{false, true} {
			tc := TestCase{Name: string(layout), Layout: layout, Seed: 7, Variants: 12}
			if withSys {
				tc.SystemMetadata = sys
			}

			t.Run(tc.Name, func(t *testing.T) {
				res := Run(context.Background(), tc)
				if res.Error != nil {
					t.Fatalf("Run() error: %v", res.Error)
				}
				if !res.Success || !res.LogMatches {
					t.Errorf("round trip failed: %v", res.Messages)
				}
				if res.BytesWritten == 0 {
					t.Error("expected bytes to be written")
				}
				if res.Variants != 12 {
					t.Errorf("Variants = %d, want 12", res.Variants)
				}
			})
		}
	}
}

func TestRun_UnknownLayout(t *testing.T) {
	res := Run(context.Background(), TestCase{Layout: "carrier-pigeon"})
	if res.Success || res.Error == nil {
		t.Fatal("expected failure for unknown layout")
	}
}
