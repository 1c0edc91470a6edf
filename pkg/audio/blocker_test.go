package audio_test

import (
	"testing"

	"github.com/MrWong99/mentara/pkg/audio"
)

func TestBlocker_RegroupsIntoFixedBlocks(t *testing.T) {
	var blocks [][]float32
	b := audio.NewBlocker(4, func(samples []float32) {
		blocks = append(blocks, append([]float32(nil), samples...))
	})

	b.Write([]float32{1, 2, 3})
	if len(blocks) != 0 {
		t.Fatalf("emitted %d blocks before a full block was available", len(blocks))
	}
	b.Write([]float32{4, 5, 6, 7, 8, 9, 10})

	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	want := [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}}
	for i := range want {
		for j := range want[i] {
			if blocks[i][j] != want[i][j] {
				t.Errorf("block %d sample %d = %v, want %v", i, j, blocks[i][j], want[i][j])
			}
		}
	}
	if got := b.Buffered(); got != 2 {
		t.Errorf("Buffered = %d, want 2", got)
	}
}

func TestBlocker_EmptyWrite(t *testing.T) {
	calls := 0
	b := audio.NewBlocker(2, func([]float32) { calls++ })
	b.Write(nil)
	if calls != 0 || b.Buffered() != 0 {
		t.Errorf("calls = %d, buffered = %d; want 0, 0", calls, b.Buffered())
	}
}
