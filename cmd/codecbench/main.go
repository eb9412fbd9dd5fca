// codecbench measures the hot paths of the storage core on this machine:
// the field kernel, Reed-Solomon encode/decode, and the payload interleave.
// It prints GB/s per operation so deployments can record the achieved
// figures against the 1 GB/s single-core floor for mul-add at 4 KiB.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/kelpfs/stipe/pkg/block"
	"github.com/kelpfs/stipe/pkg/gf"
	"github.com/kelpfs/stipe/pkg/rs"
)

func main() {
	kFlag := flag.Int("k", 8, "data shards")
	mFlag := flag.Int("m", 4, "parity shards")
	sizeFlag := flag.Int("size", 4096, "shard size in bytes")
	secsFlag := flag.Float64("secs", 2, "seconds per measurement")
	flag.Parse()
	k, m, size, secs := *kFlag, *mFlag, *sizeFlag, *secsFlag

	codec, err := rs.New(k, m)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(1))
	shards := make([][]byte, codec.Shards)
	for i := range shards {
		shards[i] = make([]byte, size)
		rng.Read(shards[i])
	}

	bench("gf mul_add", size, secs, func() {
		gf.MulAddSlice(0x8e, shards[0], shards[1])
	})
	bench("gf mul", size, secs, func() {
		gf.MulSlice(0x8e, shards[0], shards[1])
	})

	bench(fmt.Sprintf("rs encode %d+%d", k, m), k*size, secs, func() {
		if err := codec.Encode(shards[:k], shards[k:]); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	})

	erasures := make([]bool, codec.Shards)
	for i := 0; i < m; i++ {
		erasures[i] = true
	}
	bench(fmt.Sprintf("rs decode %d erased", m), k*size, secs, func() {
		if err := codec.Decode(shards, erasures); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	})

	payload := make([]byte, k*block.PayloadSize)
	rng.Read(payload)
	lanes := make([][]byte, k)
	for i := range lanes {
		lanes[i] = make([]byte, block.PayloadSize)
	}
	bench("spread", len(payload), secs, func() {
		block.Spread(payload, lanes, k)
	})
	bench("unspread", len(payload), secs, func() {
		block.Unspread(lanes, payload, k)
	})
}

func bench(name string, bytesPerOp int, seconds float64, op func()) {
	deadline := time.Now().Add(time.Duration(seconds * float64(time.Second)))
	ops := 0
	start := time.Now()
	for time.Now().Before(deadline) {
		for i := 0; i < 100; i++ {
			op()
		}
		ops += 100
	}
	elapsed := time.Since(start).Seconds()
	gbps := float64(ops) * float64(bytesPerOp) / elapsed / 1e9
	fmt.Printf("%-20s %8.2f GB/s  (%d ops)\n", name, gbps, ops)
}
