// mkvolume creates the volume files described by a yaml config, or inspects
// an existing volume's header.
//
//	mkvolume create <config.yaml>
//	mkvolume inspect <volume file>
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kelpfs/stipe/internal/config"
	"github.com/kelpfs/stipe/internal/volume"
	"github.com/kelpfs/stipe/pkg/block"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: mkvolume create <config.yaml> | mkvolume inspect <volume file>")
		os.Exit(1)
	}

	log := logrus.New()

	switch os.Args[1] {
	case "create":
		if err := create(os.Args[2], log); err != nil {
			log.Fatal(err)
		}
	case "inspect":
		if err := inspect(os.Args[2]); err != nil {
			log.Fatal(err)
		}
	default:
		fmt.Printf("unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}

func create(cfgPath string, log *logrus.Logger) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	for _, vc := range cfg.Volumes {
		v, err := volume.Create(vc.Path, volume.Options{
			ShardIDs:       vc.ShardIDs,
			StripeCapacity: cfg.StripeCapacity,
			QueueDepth:     cfg.QueueDepth,
			NoDirectIO:     cfg.NoDirectIO,
			Logger:         log,
		})
		if err != nil {
			return err
		}
		if err := v.Close(); err != nil {
			return err
		}
	}
	return nil
}

func inspect(path string) error {
	v, err := volume.Open(path, volume.Options{NoDirectIO: true})
	if err != nil {
		return err
	}
	defer v.Close()

	hdr := v.Header()
	fmt.Printf("volume:       %s\n", path)
	fmt.Printf("magic:        %t\n", hdr.HasMagic())
	fmt.Printf("version:      %d\n", hdr.Version())
	fmt.Printf("prefix id:    %#x\n", hdr.VolumePrefixID())
	fmt.Printf("shard ids:    %v (k=%d)\n", hdr.ShardIDs(), hdr.KBlocksInStripe())
	fmt.Printf("primary idx:  %d\n", hdr.PrimaryIndexOffset())
	fmt.Printf("secondary idx:%d\n", hdr.SecondaryIndexOffset())
	fmt.Printf("tail offset:  %d (%d stripes)\n", hdr.TailOffset(),
		(hdr.TailOffset()-block.HeaderSize)/uint64(block.BlockSize*hdr.KBlocksInStripe()))
	return nil
}
