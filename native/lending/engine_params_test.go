package lending

import (
	"strings"
	"testing"

	"phoenixchain/core/types"
)

func lastParamsEvent(t *testing.T, f *testFixture) *types.Event {
	t.Helper()
	if len(f.emitter.events) == 0 {
		t.Fatal("no events emitted")
	}
	evt := f.emitter.events[len(f.emitter.events)-1]
	if evt.EventType() != EventTypeParamsUpdated {
		t.Fatalf("unexpected event type %s", evt.EventType())
	}
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		t.Fatalf("event %T does not expose its payload", evt)
	}
	return carrier.Event()
}

func TestSetAssetAllowedValidatesAndEmits(t *testing.T) {
	f := newTestFixture(t)
	next := makeAddress(0xD1)
	emitted := len(f.emitter.events)

	if err := f.engine.SetAssetAllowed(next, true); err != nil {
		t.Fatalf("allow asset: %v", err)
	}
	if !f.engine.Params().AssetAllowed(next) {
		t.Fatal("asset must be allowlisted")
	}
	if len(f.emitter.events) != emitted+1 {
		t.Fatalf("allowlist change must emit a params update, got %d new events", len(f.emitter.events)-emitted)
	}
	payload := lastParamsEvent(t, f)
	if !strings.Contains(payload.Attributes["allowedAssets"], strings.ToLower(next.Hex())) {
		t.Fatalf("allowlist attribute missing new asset: %q", payload.Attributes["allowedAssets"])
	}

	if err := f.engine.SetAssetAllowed(next, false); err != nil {
		t.Fatalf("disallow asset: %v", err)
	}
	if f.engine.Params().AssetAllowed(next) {
		t.Fatal("asset must be removed from the allowlist")
	}
	payload = lastParamsEvent(t, f)
	if strings.Contains(payload.Attributes["allowedAssets"], strings.ToLower(next.Hex())) {
		t.Fatalf("allowlist attribute still lists removed asset: %q", payload.Attributes["allowedAssets"])
	}
}
