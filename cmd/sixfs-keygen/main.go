// sixfs-keygen writes a 40-byte key file suitable for Config.Key
// (§6): either a cryptographically random key, or one derived from a
// passphrase and salt via PBKDF2, mirroring the teacher's
// password-derived-key convenience path in cmd/tfhfs.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"

	"sixfs/codec"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n\n%s [flags] KEYFILE\n", os.Args[0])
		flag.PrintDefaults()
	}
	random := flag.Bool("random", false, "Generate a random key instead of deriving one from a passphrase")
	passphrase := flag.String("passphrase", "", "Passphrase to derive the key from (required unless -random)")
	salt := flag.String("salt", "sixfs", "Salt for passphrase derivation")
	iterations := flag.Int("iterations", 0, "PBKDF2 iteration count (0 = library default)")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	keyPath := flag.Arg(0)

	var key []byte
	if *random {
		key = make([]byte, codec.KeySize)
		if _, err := rand.Read(key); err != nil {
			log.Fatalf("sixfs-keygen: generating random key: %v", err)
		}
	} else {
		if *passphrase == "" {
			fmt.Fprintln(os.Stderr, "sixfs-keygen: -passphrase is required unless -random is set")
			flag.Usage()
			os.Exit(1)
		}
		key = codec.DeriveKeyFromPassphrase(*passphrase, *salt, *iterations)
	}

	if err := codec.WriteKeyFile(keyPath, key); err != nil {
		log.Fatalf("sixfs-keygen: %v", err)
	}
	fmt.Printf("wrote %d-byte key file to %s\n", codec.KeyFileSize, keyPath)
}
