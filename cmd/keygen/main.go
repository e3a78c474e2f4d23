package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// Generates a 64-byte HMAC signing secret. Rotating the secret
// invalidates every outstanding token, so treat the output as
// long-lived configuration.
func main() {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		fmt.Printf("Failed to generate secret: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("--- COPY BELOW TO .env.local ---")
	fmt.Printf("AUTH_SIGNING_SECRET=%s\n", hex.EncodeToString(buf))
	fmt.Println("--------------------------------")
}
