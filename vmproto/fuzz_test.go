package vmproto_test

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Alia5/VIIPMI/vmproto"
)

// getFuzzRounds returns the number of rounds from FUZZ_ROUNDS, default 1000.
func getFuzzRounds() int {
	if env := os.Getenv("FUZZ_ROUNDS"); env != "" {
		if rounds, err := strconv.Atoi(env); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if env := os.Getenv("FUZZ_SEED"); env != "" {
		if s, err := strconv.ParseInt(env, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func TestFuzzRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	d := vmproto.NewDecoder()
	for i := 0; i < getFuzzRounds(); i++ {
		payload := make([]byte, 3+rng.Intn(vmproto.MaxFrameData-4))
		rng.Read(payload)
		id := byte(rng.Intn(256))

		frames, err := d.Decode(vmproto.EncodeMessage(id, payload))
		require.NoError(t, err, "round %d", i)
		require.Len(t, frames, 1, "round %d", i)
		require.Equal(t, vmproto.Message{ID: id, Data: payload}, frames[0], "round %d", i)
	}
}

func FuzzDecoder(f *testing.F) {
	f.Add(vmproto.EncodeMessage(0x01, []byte{0x1c, 0x01, 0x00}))
	f.Add(vmproto.EncodeCommand(vmproto.CmdCapabilities, 0x1f))
	f.Add([]byte{0xaa, 0xaa, 0xa0, 0xa1})
	f.Fuzz(func(t *testing.T, data []byte) {
		d := vmproto.NewDecoder()
		frames, _ := d.Decode(data)
		for _, fr := range frames {
			if m, ok := fr.(vmproto.Message); ok && len(m.Data) > vmproto.MaxFrameData {
				t.Fatalf("message larger than frame capacity: %d", len(m.Data))
			}
		}
	})
}
