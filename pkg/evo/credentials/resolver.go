// Package credentials turns a server's encrypted key material into the
// ordered list of API keys the response engine will try.
package credentials

// Decrypter is the encryption collaborator. Decrypt returns "" on failure.
type Decrypter interface {
	Decrypt(ciphertext string) string
}

// Resolve decrypts the primary and backup keys and returns the usable ones,
// primary first. Keys that are missing or fail to decrypt are skipped.
func Resolve(dec Decrypter, encryptedPrimary, encryptedBackup string) []string {
	keys := make([]string, 0, 2)
	for _, enc := range []string{encryptedPrimary, encryptedBackup} {
		if enc == "" {
			continue
		}
		if key := dec.Decrypt(enc); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
