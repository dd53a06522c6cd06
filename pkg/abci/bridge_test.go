package abci

import (
	"bytes"
	"testing"
	"time"

	"github.com/uhyunpark/dutchmarket/pkg/sequencer"
)

func TestPayloadRoundTrip(t *testing.T) {
	txs := [][]byte{
		[]byte(`{"type":"add_offer"}`),
		[]byte(`{"type":"match"}`),
	}
	got := splitPayload(joinPayload(txs))
	if len(got) != len(txs) {
		t.Fatalf("split len = %d, want %d", len(got), len(txs))
	}
	for i := range txs {
		if !bytes.Equal(got[i], txs[i]) {
			t.Errorf("tx %d = %q, want %q", i, got[i], txs[i])
		}
	}
}

func TestSplitPayloadSkipsEmptySegments(t *testing.T) {
	got := splitPayload([]byte{0x00, 'a', 0x00, 0x00, 'b'})
	if len(got) != 2 || string(got[0]) != "a" || string(got[1]) != "b" {
		t.Fatalf("split = %q", got)
	}
	if out := splitPayload(nil); len(out) != 0 {
		t.Fatalf("split(nil) = %q", out)
	}
}

func TestBridgeOrdersByBucket(t *testing.T) {
	app := NewMockApp(nil)
	app.PushTx([]byte(`{"type":"add_bid","from":"0x01"}`))
	app.PushTx([]byte(`{"type":"remove_offer","from":"0x02"}`))
	app.PushTx([]byte(`{"type":"match","from":"0x03"}`))

	b := &Bridge{App: app}
	payload := b.PreparePayload(sequencer.Block{}, 1)
	txs := splitPayload(payload)
	want := []string{`{"type":"remove_offer","from":"0x02"}`, `{"type":"add_bid","from":"0x01"}`, `{"type":"match","from":"0x03"}`}
	if len(txs) != len(want) {
		t.Fatalf("got %d txs, want %d", len(txs), len(want))
	}
	for i := range want {
		if string(txs[i]) != want[i] {
			t.Errorf("tx %d = %s, want %s", i, txs[i], want[i])
		}
	}
	if !b.ValidatePayload(1, payload) {
		t.Fatal("mock app rejected payload")
	}

	h, err := b.OnCommit(sequencer.Block{Height: 7, Time: time.Unix(100, 0), Payload: payload})
	if err != nil {
		t.Fatalf("OnCommit: %v", err)
	}
	if h[7] != 7 || h[8] != 3 {
		t.Fatalf("app hash = %s, want height 7 and 3 txs encoded", h.Hex())
	}
	if app.CommitCount() != 1 {
		t.Fatalf("CommitCount = %d, want 1", app.CommitCount())
	}
}
