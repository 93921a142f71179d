// sixfs-fsck opens a filesystem's store directory, reports its
// statvfs counters and emergency-flag state, and exits non-zero if
// mounting failed or the emergency flag is set. It never writes
// beyond what Mount itself performs (formatting a genuinely empty
// store), mirroring the teacher's thin, flag-driven cmd/tfhfs binary.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"sixfs/codec"
	"sixfs/fs"
	"sixfs/hostcontainer"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n\n%s [flags] STORAGEDIR\n", os.Args[0])
		flag.PrintDefaults()
	}
	keyFile := flag.String("keyfile", "", "Path to a 40-byte key file (empty disables encryption)")
	mmap := flag.Bool("mmap", false, "Use the mmap host container backend instead of plain file I/O")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	storeDir := flag.Arg(0)

	var key []byte
	if *keyFile != "" {
		k, err := codec.LoadKeyFile(*keyFile)
		if err != nil {
			log.Fatalf("sixfs-fsck: %v", err)
		}
		key = k
	}

	kind := hostcontainer.KindFile
	if *mmap {
		kind = hostcontainer.KindMmap
	}

	filesystem, err := fs.Mount(fs.Config{Kind: kind, Dir: storeDir, Key: key})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sixfs-fsck: mount failed: %v\n", err)
		os.Exit(1)
	}
	defer filesystem.Unmount()

	st, err := filesystem.Statvfs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sixfs-fsck: statvfs failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("block size:   %d\n", st.BlockSize)
	fmt.Printf("max name len: %d\n", st.MaxNameLen)
	fmt.Printf("blocks:       %d (free %d)\n", st.Blocks, st.BlocksFree)
	fmt.Printf("inodes:       %d (free %d)\n", st.Inodes, st.InodesFree)

	switch filesystem.Emergency() {
	case fs.EmergencyNone:
		fmt.Println("emergency:    none")
	case fs.EmergencyBug:
		fmt.Println("emergency:    BUG")
		os.Exit(2)
	case fs.EmergencySystemFailure:
		fmt.Println("emergency:    SYSTEM FAILURE")
		os.Exit(2)
	}
}
