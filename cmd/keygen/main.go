// keygen provisions the RSA-4096 signing pair for deployments that do not
// let the server generate keys at startup.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"flag"
	"fmt"
	"log"
	"os"

	"license-server/internal/infra/security"
)

func main() {
	privPath := flag.String("private", "keys/license_private.pem", "private key output path")
	pubPath := flag.String("public", "keys/license_public.pem", "public key output path")
	force := flag.Bool("force", false, "overwrite existing key files")
	flag.Parse()

	if !*force {
		if _, err := os.Stat(*privPath); err == nil {
			log.Fatalf("%s already exists; pass -force to overwrite", *privPath)
		}
	}

	priv, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	if err := security.WriteKeyPair(priv, *privPath, *pubPath); err != nil {
		log.Fatalf("write key pair: %v", err)
	}

	km, err := security.NewKeyManagerFromKey(priv)
	if err != nil {
		log.Fatalf("key manager: %v", err)
	}
	fmt.Printf("wrote %s and %s\n", *privPath, *pubPath)
	fmt.Printf("key_id: %s\n", km.KeyID())
}
